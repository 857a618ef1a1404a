package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"railway-monitor/internal/rail"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch rail.Kind(err) {
	case rail.ErrNotFound:
		return http.StatusNotFound
	case rail.ErrValidation:
		return http.StatusBadRequest
	case rail.ErrConflict:
		return http.StatusConflict
	case rail.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the taxonomy status. Internal errors are logged
// and their details withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Error: rail.Kind(err).Error(), Details: err.Error()}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("event", "http.internal_error").Str("path", r.URL.Path).Msg("request failed")
		body.Details = ""
	}
	writeJSON(w, code, body)
}

// decodeJSON reads a single JSON document into v; any decode failure is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return rail.Validationf("request body is empty")
		}
		if errors.Is(err, rail.ErrValidation) {
			return err
		}
		return rail.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
