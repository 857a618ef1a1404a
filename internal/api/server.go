// Package api is the HTTP surface of the daemon: train records, monitoring
// reads, optimization requests and the websocket upgrade.
package api

import (
	"context"
	"net/http"
	"time"

	"railway-monitor/internal/alert"
	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/conflict"
	"railway-monitor/internal/optimize"
	"railway-monitor/internal/rail"
	"railway-monitor/internal/registry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Trains is satisfied by *registry.Registry.
type Trains interface {
	Get(ctx context.Context, id string) (rail.Train, error)
	List(ctx context.Context, f registry.Filter) ([]rail.Train, error)
	Active(ctx context.Context) ([]rail.Train, error)
	Create(ctx context.Context, t rail.Train) (string, error)
	Update(ctx context.Context, id string, t rail.Train) (rail.Train, error)
	Delete(ctx context.Context, id string) error
	UpdateTelemetry(ctx context.Context, id string, u registry.TelemetryUpdate) (rail.Train, error)
	Events(ctx context.Context, id string, limit int) ([]rail.TrainEvent, error)
	Statistics(ctx context.Context) (registry.Statistics, error)
}

// Optimizer is satisfied by *optimize.Orchestrator.
type Optimizer interface {
	OptimizeSchedule(ctx context.Context, req optimize.Request) (optimize.Response, error)
	SimulateScenario(ctx context.Context, req optimize.SimulationRequest) (optimize.SimulationResponse, error)
	Objectives() []optimize.ObjectiveKind
	SolverAvailable(ctx context.Context) bool
}

// Observers is the part of *broadcast.Hub the API needs.
type Observers interface {
	Clients() []broadcast.ClientInfo
	Broadcast(msg broadcast.Message) int
	Deliver(msg broadcast.Message) int
}

type DisruptionSink interface {
	PublishDisruption(d broadcast.DisruptionAlert) error
}

type HTTPMetrics interface {
	HTTPObserve(method, route string, status int, d time.Duration)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the required collaborators. WS may be nil when the websocket
// endpoint is served elsewhere.
type Deps struct {
	Trains    Trains
	Optimizer Optimizer
	Observers Observers
	Store     Pinger
	WS        http.Handler
}

type Server struct {
	trains    Trains
	optimizer Optimizer
	observers Observers
	store     Pinger
	ws        http.Handler

	sink     DisruptionSink
	metrics  HTTPMetrics
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	version  string
	detector *conflict.Detector
	alerts   *alert.Generator
}

type Option func(*Server)

func WithDisruptionSink(s DisruptionSink) Option { return func(srv *Server) { srv.sink = s } }
func WithHTTPMetrics(m HTTPMetrics) Option       { return func(srv *Server) { srv.metrics = m } }
func WithLogger(l zerolog.Logger) Option         { return func(srv *Server) { srv.log = l } }
func WithClock(now func() time.Time) Option      { return func(srv *Server) { srv.now = now } }
func WithIDs(newID func() string) Option         { return func(srv *Server) { srv.newID = newID } }
func WithVersion(v string) Option                { return func(srv *Server) { srv.version = v } }

func New(d Deps, opts ...Option) *Server {
	s := &Server{
		trains:    d.Trains,
		optimizer: d.Optimizer,
		observers: d.Observers,
		store:     d.Store,
		ws:        d.WS,
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
		version:   "dev",
	}
	for _, o := range opts {
		o(s)
	}
	s.detector = conflict.NewDetector(s.now)
	s.alerts = alert.NewGenerator(s.now, s.newID)
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.observe)

	r.Get("/health", s.health)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/trains", func(r chi.Router) {
			r.Get("/", s.listTrains)
			r.Post("/", s.createTrain)
			r.Get("/stats", s.statistics)
			r.Get("/conflicts", s.conflicts)
			r.Get("/alerts", s.activeAlerts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getTrain)
				r.Put("/", s.updateTrain)
				r.Delete("/", s.deleteTrain)
				r.Post("/update", s.updateTelemetry)
				r.Get("/events", s.trainEvents)
			})
		})
		r.Route("/optimize", func(r chi.Router) {
			r.Post("/schedule", s.optimizeSchedule)
			r.Post("/simulate", s.simulateScenario)
			r.Get("/objectives", s.objectives)
			r.Get("/health", s.optimizerHealth)
		})
		r.Post("/disruptions", s.reportDisruption)
		r.Get("/clients", s.clients)
	})
	return r
}

// observe records latency by route pattern and logs the request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if s.metrics != nil {
			s.metrics.HTTPObserve(r.Method, route, status, d)
		}

		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("event", "http.request").
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", d).
			Msg("request served")
	})
}
