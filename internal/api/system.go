package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/rail"
)

const healthPingTimeout = 2 * time.Second

type disruptionReport struct {
	DisruptionType   broadcast.DisruptionType `json:"disruption_type"`
	AffectedSections []string                 `json:"affected_sections"`
	ImpactLevel      uint8                    `json:"impact_level"`
	Description      string                   `json:"description"`
}

func (d disruptionReport) validate() error {
	if !d.DisruptionType.Valid() {
		return rail.Validationf("unknown disruption_type %q", d.DisruptionType)
	}
	if len(d.AffectedSections) == 0 {
		return rail.Validationf("affected_sections must not be empty")
	}
	for _, sec := range d.AffectedSections {
		if strings.TrimSpace(sec) == "" {
			return rail.Validationf("affected_sections contains an empty section id")
		}
	}
	if d.ImpactLevel < 1 || d.ImpactLevel > 5 {
		return rail.Validationf("impact_level must be between 1 and 5, got %d", d.ImpactLevel)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": s.now().UTC(),
		"database":  "ok",
	}
	if s.observers != nil {
		body["clients"] = len(s.observers.Clients())
	}
	code := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("event", "health.db_unreachable").Msg("database ping failed")
			body["status"] = "degraded"
			body["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) clients(w http.ResponseWriter, _ *http.Request) {
	list := s.observers.Clients()
	if list == nil {
		list = []broadcast.ClientInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": list, "count": len(list)})
}

// reportDisruption fans a disruption out to every observer and mirrors it to
// the event bus when one is configured.
func (s *Server) reportDisruption(w http.ResponseWriter, r *http.Request) {
	var rep disruptionReport
	if err := decodeJSON(w, r, &rep); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := rep.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := broadcast.DisruptionAlert{
		DisruptionID:     s.newID(),
		DisruptionType:   rep.DisruptionType,
		AffectedSections: rep.AffectedSections,
		ImpactLevel:      rep.ImpactLevel,
		Description:      rep.Description,
		Timestamp:        s.now().UTC(),
	}
	n := s.observers.Broadcast(msg)
	if s.sink != nil {
		if err := s.sink.PublishDisruption(msg); err != nil {
			s.log.Warn().Err(err).Str("event", "disruption.publish_failed").Str("disruption_id", msg.DisruptionID).Msg("mirror disruption")
		}
	}
	s.log.Info().Str("event", "disruption.reported").Str("disruption_id", msg.DisruptionID).
		Str("type", string(msg.DisruptionType)).Uint8("impact", msg.ImpactLevel).Int("observers", n).Msg("disruption broadcast")
	writeJSON(w, http.StatusAccepted, map[string]any{"disruption": msg, "delivered_to": n})
}
