package api

import (
	"net/http"
	"strconv"
	"strings"

	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/rail"
	"railway-monitor/internal/registry"

	"github.com/go-chi/chi/v5"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

func (s *Server) listTrains(w http.ResponseWriter, r *http.Request) {
	f := registry.Filter{SectionID: strings.TrimSpace(r.URL.Query().Get("section"))}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := rail.Status(strings.TrimSpace(part))
			if !st.Valid() {
				s.writeError(w, r, rail.Validationf("unknown status %q", part))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	trains, err := s.trains.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if trains == nil {
		trains = []rail.Train{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trains": trains, "count": len(trains)})
}

func (s *Server) createTrain(w http.ResponseWriter, r *http.Request) {
	var t rail.Train
	if err := decodeJSON(w, r, &t); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.trains.Create(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.trains.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/trains/"+id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getTrain(w http.ResponseWriter, r *http.Request) {
	t, err := s.trains.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTrain(w http.ResponseWriter, r *http.Request) {
	var t rail.Train
	if err := decodeJSON(w, r, &t); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.trains.Update(r.Context(), chi.URLParam(r, "id"), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTrain(w http.ResponseWriter, r *http.Request) {
	if err := s.trains.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateTelemetry applies a partial update and pushes it straight to the
// train's subscribers instead of waiting for the next monitoring tick.
func (s *Server) updateTelemetry(w http.ResponseWriter, r *http.Request) {
	var u registry.TelemetryUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.trains.UpdateTelemetry(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.observers != nil {
		s.observers.Deliver(broadcast.NewTrainUpdate(t, s.now().UTC()))
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) trainEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			s.writeError(w, r, rail.Validationf("limit must be between 1 and %d", maxEventLimit))
			return
		}
		limit = n
	}
	events, err := s.trains.Events(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []rail.TrainEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.trains.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) conflicts(w http.ResponseWriter, r *http.Request) {
	active, err := s.trains.Active(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	found := s.detector.Detect(active)
	if found == nil {
		found = []rail.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": found, "count": len(found)})
}

func (s *Server) activeAlerts(w http.ResponseWriter, r *http.Request) {
	active, err := s.trains.Active(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts := s.alerts.Generate(active)
	if alerts == nil {
		alerts = []rail.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}
