package api

import (
	"net/http"

	"railway-monitor/internal/optimize"
)

func (s *Server) optimizeSchedule(w http.ResponseWriter, r *http.Request) {
	var req optimize.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.optimizer.OptimizeSchedule(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) simulateScenario(w http.ResponseWriter, r *http.Request) {
	var req optimize.SimulationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.optimizer.SimulateScenario(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) objectives(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"objectives": s.optimizer.Objectives()})
}

// optimizerHealth always answers 200: requests are served by the fallback
// when the solver is down.
func (s *Server) optimizerHealth(w http.ResponseWriter, r *http.Request) {
	ok := s.optimizer.SolverAvailable(r.Context())
	status := "available"
	if !ok {
		status = "fallback"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"solver_available": ok,
		"timestamp":        s.now().UTC(),
	})
}
