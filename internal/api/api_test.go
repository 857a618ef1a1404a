package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/db"
	"railway-monitor/internal/geo"
	"railway-monitor/internal/optimize"
	"railway-monitor/internal/rail"
	"railway-monitor/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)

func clock() time.Time { return epoch }

type fakeObservers struct {
	mu        sync.Mutex
	broadcast []broadcast.Message
	delivered []broadcast.Message
	clients   []broadcast.ClientInfo
}

func (f *fakeObservers) Clients() []broadcast.ClientInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeObservers) Broadcast(msg broadcast.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, msg)
	return len(f.clients)
}

func (f *fakeObservers) Deliver(msg broadcast.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, msg)
	return 1
}

type fakeSink struct {
	mu   sync.Mutex
	sent []broadcast.DisruptionAlert
	err  error
}

func (f *fakeSink) PublishDisruption(d broadcast.DisruptionAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return f.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) HTTPObserve(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

type fixture struct {
	h         http.Handler
	observers *fakeObservers
	sink      *fakeSink
	routes    *routeRecorder
}

func newFixture(t *testing.T, store Pinger) *fixture {
	t.Helper()
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	reg := registry.New(db.NewMemoryStore(), registry.WithClock(clock), registry.WithIDs(ids))
	opt := optimize.New(nil, optimize.Config{}, optimize.WithRand(rand.New(rand.NewPCG(7, 7))), optimize.WithClock(clock))
	f := &fixture{
		observers: &fakeObservers{clients: []broadcast.ClientInfo{{ClientID: "c1", ConnectedAt: epoch}}},
		sink:      &fakeSink{},
		routes:    &routeRecorder{},
	}
	srv := New(Deps{Trains: reg, Optimizer: opt, Observers: f.observers, Store: store},
		WithClock(clock), WithIDs(ids), WithDisruptionSink(f.sink), WithHTTPMetrics(f.routes), WithVersion("test"))
	f.h = srv.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func trainJSON(number int, section, status string, lat, lon, speed float64, dir string, delay int) string {
	return fmt.Sprintf(`{"train_number": %d, "name": "Train %d", "priority": "Express", "current_section": %q,
		"position": {"latitude": %g, "longitude": %g}, "speed_kmh": %g, "direction": %q,
		"status": %q, "delay_minutes": %d, "route": ["NDLS", "CNB"]}`,
		number, number, section, lat, lon, speed, dir, status, delay)
}

func TestTrains_CRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/trains", trainJSON(12951, "SEC-1", "Scheduled", 28.6, 77.2, 0, "Up", 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[rail.Train](t, rec)
	assert.Equal(t, "id-001", created.ID)
	assert.Equal(t, "/api/v1/trains/id-001", rec.Header().Get("Location"))
	assert.Equal(t, rail.StatusScheduled, created.Status)
	assert.True(t, epoch.Equal(created.CreatedAt))

	rec = f.do(t, http.MethodPost, "/api/v1/trains", trainJSON(12951, "SEC-2", "Scheduled", 28.6, 77.2, 0, "Up", 0))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/trains", `{"train_number": 1, "name": "", "priority": "Mail", "direction": "Up", "route": ["A"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Details, "name")

	rec = f.do(t, http.MethodPost, "/api/v1/trains", `{"priority": "Turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/id-001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Train 12951", decode[rail.Train](t, rec).Name)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodPut, "/api/v1/trains/id-001", trainJSON(12951, "SEC-3", "Running", 28.7, 77.3, 90, "Up", 0))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[rail.Train](t, rec)
	assert.Equal(t, "SEC-3", updated.CurrentSection)
	assert.True(t, epoch.Equal(updated.CreatedAt))

	rec = f.do(t, http.MethodDelete, "/api/v1/trains/id-001", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "running trains cannot be deleted")

	rec = f.do(t, http.MethodPut, "/api/v1/trains/id-001", trainJSON(12951, "SEC-3", "Terminated", 28.7, 77.3, 0, "Up", 0))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodDelete, "/api/v1/trains/id-001", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/trains/id-001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrains_ListFilters(t *testing.T) {
	f := newFixture(t, nil)
	for i, tc := range []struct{ section, status string }{
		{"SEC-1", "Running"}, {"SEC-1", "Scheduled"}, {"SEC-2", "Running"},
	} {
		rec := f.do(t, http.MethodPost, "/api/v1/trains", trainJSON(100+i, tc.section, tc.status, 28.6, 77.2, 40, "Up", 0))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	type list struct {
		Trains []rail.Train `json:"trains"`
		Count  int          `json:"count"`
	}
	cases := map[string]int{
		"/api/v1/trains":                                  3,
		"/api/v1/trains?section=SEC-1":                    2,
		"/api/v1/trains?status=Running":                   2,
		"/api/v1/trains?section=SEC-1&status=Running":     1,
		"/api/v1/trains?status=Running,Scheduled":         3,
		"/api/v1/trains?section=SEC-9":                    0,
		"/api/v1/trains?section=SEC-2&status=Cancelled":   0,
		"/api/v1/trains?section=SEC-1&status=Scheduled,X": -1,
	}
	for path, want := range cases {
		rec := f.do(t, http.MethodGet, path, "")
		if want < 0 {
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
			continue
		}
		require.Equal(t, http.StatusOK, rec.Code, path)
		got := decode[list](t, rec)
		assert.Equal(t, want, got.Count, path)
		assert.Len(t, got.Trains, want, path)
	}
}

func TestTrains_TelemetryPushesUpdate(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/trains", trainJSON(555, "SEC-1", "Running", 28.6, 77.2, 80, "Up", 0))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/trains/id-001/update", `{"delay_minutes": 20, "reason": "signal check"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr := decode[rail.Train](t, rec)
	assert.Equal(t, rail.StatusDelayed, tr.Status)
	assert.Equal(t, int32(20), tr.DelayMinutes)

	require.Len(t, f.observers.delivered, 1)
	upd, ok := f.observers.delivered[0].(broadcast.TrainUpdate)
	require.True(t, ok)
	assert.Equal(t, "id-001", upd.TrainID)
	assert.Equal(t, rail.StatusDelayed, upd.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/trains/id-001/update", `{"speed_kmh": -3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/trains/missing/update", `{"speed_kmh": 3}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/id-001/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[struct {
		Events []rail.TrainEvent `json:"events"`
		Count  int               `json:"count"`
	}](t, rec)
	require.Equal(t, 1, events.Count)
	assert.Equal(t, "signal check", events.Events[0].Reason)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/id-001/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/trains/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitoringReads(t *testing.T) {
	f := newFixture(t, nil)
	lat, lon := 19.0, 72.8
	bLat, bLon := geo.Offset(lat, lon, 0, 1000)
	for _, body := range []string{
		trainJSON(101, "SEC-1", "Running", lat, lon, 60, "Up", 0),
		trainJSON(102, "SEC-1", "Delayed", bLat, bLon, 60, "Down", 50),
		trainJSON(103, "SEC-2", "Scheduled", 20, 73, 0, "Up", 0),
	} {
		rec := f.do(t, http.MethodPost, "/api/v1/trains", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/trains/conflicts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	conflicts := decode[struct {
		Conflicts []rail.Conflict `json:"conflicts"`
	}](t, rec)
	require.Len(t, conflicts.Conflicts, 1)
	assert.Equal(t, "SEC-1", conflicts.Conflicts[0].SectionID)
	assert.Equal(t, rail.ConflictHeadOn, conflicts.Conflicts[0].ConflictType)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[struct {
		Alerts []rail.Alert `json:"alerts"`
	}](t, rec)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, rail.AlertHighDelay, alerts.Alerts[0].AlertType)
	assert.Equal(t, rail.SeverityHigh, alerts.Alerts[0].Severity)

	rec = f.do(t, http.MethodGet, "/api/v1/trains/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[registry.Statistics](t, rec)
	assert.Equal(t, 3, st.TotalTrains)
	assert.Equal(t, 2, st.ActiveTrains)
	assert.Equal(t, 1, st.DelayedTrains)
	assert.Equal(t, 3, st.ByPriority["Express"])
}

func TestOptimizeEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	train := trainJSON(7, "SEC-1", "Running", 28.6, 77.2, 80, "Up", 0)
	train = strings.Replace(train, "{", `{"id": "T-7", `, 1)

	rec := f.do(t, http.MethodPost, "/api/v1/optimize/schedule",
		`{"section_id": "SEC-1", "trains": [`+train+`], "time_horizon_minutes": 0, "objective": "MinimizeDelay"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Details, "time_horizon_minutes")

	rec = f.do(t, http.MethodPost, "/api/v1/optimize/schedule",
		`{"section_id": "SEC-1", "trains": [`+train+`], "time_horizon_minutes": 60,
		  "constraints": [{"type": "SpeedLimit", "section_id": "SEC-1", "max_speed_kmh": 90}],
		  "objective": {"type": "BalancedOptimal", "delay_weight": 0.5, "throughput_weight": 0.5}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[optimize.Response](t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.Fallback)
	require.Len(t, resp.OptimizedSchedule, 1)
	assert.Equal(t, "T-7", resp.OptimizedSchedule[0].TrainID)

	rec = f.do(t, http.MethodPost, "/api/v1/optimize/schedule",
		`{"section_id": "SEC-1", "trains": [`+train+`], "time_horizon_minutes": 60, "constraints": [{"type": "Gravity"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/optimize/simulate",
		`{"scenario_name": "block", "section_id": "SEC-1", "base_trains": [`+train+`], "simulation_duration_hours": 2,
		  "what_if_changes": [{"type": "BlockSection", "section_id": "SEC-1", "duration_minutes": 30}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sim := decode[optimize.SimulationResponse](t, rec)
	assert.True(t, sim.Fallback)
	assert.Len(t, sim.SimulationResults.TimelineEvents, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/optimize/objectives", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"objectives":["MinimizeDelay","MaximizeThroughput","MinimizeEnergyConsumption","BalancedOptimal"]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/optimize/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, false, health["solver_available"])
	assert.Equal(t, "fallback", health["status"])
}

func TestDisruptions(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/disruptions",
		`{"disruption_type": "SignalFailure", "affected_sections": ["SEC-1", "SEC-2"], "impact_level": 4, "description": "interlocking down"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode[struct {
		Disruption  broadcast.DisruptionAlert `json:"disruption"`
		DeliveredTo int                       `json:"delivered_to"`
	}](t, rec)
	assert.Equal(t, 1, out.DeliveredTo)
	assert.Equal(t, "id-001", out.Disruption.DisruptionID)
	assert.True(t, epoch.Equal(out.Disruption.Timestamp))

	require.Len(t, f.observers.broadcast, 1)
	assert.Equal(t, broadcast.TypeDisruptionAlert, f.observers.broadcast[0].Type())
	require.Len(t, f.sink.sent, 1)
	assert.Equal(t, []string{"SEC-1", "SEC-2"}, f.sink.sent[0].AffectedSections)

	f.sink.err = errors.New("nats down")
	rec = f.do(t, http.MethodPost, "/api/v1/disruptions",
		`{"disruption_type": "Weather", "affected_sections": ["SEC-3"], "impact_level": 1}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, "bus failures do not fail the request")

	for _, body := range []string{
		`{"disruption_type": "Meteor", "affected_sections": ["SEC-1"], "impact_level": 2}`,
		`{"disruption_type": "Weather", "affected_sections": [], "impact_level": 2}`,
		`{"disruption_type": "Weather", "affected_sections": ["SEC-1"], "impact_level": 6}`,
		`{"disruption_type": "Weather", "affected_sections": [" "], "impact_level": 3}`,
		`not json`,
		``,
	} {
		rec := f.do(t, http.MethodPost, "/api/v1/disruptions", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Len(t, f.observers.broadcast, 2)
}

func TestHealthAndClients(t *testing.T) {
	f := newFixture(t, pinger{})
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, 1.0, body["clients"])

	down := newFixture(t, pinger{err: errors.New("connection refused")})
	rec = down.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/clients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	clients := decode[struct {
		Clients []broadcast.ClientInfo `json:"clients"`
		Count   int                    `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, clients.Count)
	assert.Equal(t, "c1", clients.Clients[0].ClientID)
}

func TestRouteMetricsUsePatterns(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/v1/trains/abc", "")
	f.do(t, http.MethodGet, "/api/v1/optimize/objectives", "")

	require.Len(t, f.routes.routes, 2)
	assert.Contains(t, f.routes.routes[0], "{id}")
	assert.True(t, strings.HasSuffix(f.routes.routes[0], " 404"))
	assert.Equal(t, "GET /api/v1/optimize/objectives 200", f.routes.routes[1])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		rail.NotFoundf("train x"):                         http.StatusNotFound,
		rail.Validationf("bad"):                           http.StatusBadRequest,
		rail.Conflictf("dup"):                             http.StatusConflict,
		rail.Unavailable("solver", errors.New("refused")): http.StatusServiceUnavailable,
		fmt.Errorf("wrapped: %w", rail.NotFoundf("deep")): http.StatusNotFound,
		errors.New("boom"):                                http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
