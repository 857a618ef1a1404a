// Package alert turns a train snapshot into operational alerts. Every call
// evaluates from scratch; nothing is suppressed between calls.
package alert

import (
	"fmt"
	"time"

	"railway-monitor/internal/rail"

	"github.com/google/uuid"
)

const (
	DelayThreshold     = 30
	DelayHighAbove     = 45
	DelayCriticalAbove = 60
	OverspeedKmh       = 120.0
	StaleAfter         = 10 * time.Minute
)

type Generator struct {
	now   func() time.Time
	newID func() string
}

func NewGenerator(now func() time.Time, newID func() string) *Generator {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Generator{now: now, newID: newID}
}

// Generate applies every rule to every train; one train can raise several alerts.
func (g *Generator) Generate(trains []rail.Train) []rail.Alert {
	now := g.now().UTC()
	var out []rail.Alert
	for _, t := range trains {
		if t.DelayMinutes > DelayThreshold {
			out = append(out, g.alert(t, now, rail.AlertHighDelay, delaySeverity(t.DelayMinutes),
				fmt.Sprintf("Train %d (%s) is delayed by %d minutes", t.TrainNumber, t.Name, t.DelayMinutes)))
		}
		if t.SpeedKmh > OverspeedKmh {
			out = append(out, g.alert(t, now, rail.AlertOverspeed, rail.SeverityHigh,
				fmt.Sprintf("Train %d (%s) is running at %.1f km/h", t.TrainNumber, t.Name, t.SpeedKmh)))
		}
		if age := now.Sub(t.UpdatedAt); age > StaleAfter {
			out = append(out, g.alert(t, now, rail.AlertStaleTelemetry, rail.SeverityMedium,
				fmt.Sprintf("No telemetry from train %d (%s) for %s", t.TrainNumber, t.Name, age.Truncate(time.Second))))
		}
	}
	return out
}

func delaySeverity(minutes int32) rail.Severity {
	switch {
	case minutes > DelayCriticalAbove:
		return rail.SeverityCritical
	case minutes > DelayHighAbove:
		return rail.SeverityHigh
	default:
		return rail.SeverityMedium
	}
}

func (g *Generator) alert(t rail.Train, now time.Time, typ rail.AlertType, sev rail.Severity, msg string) rail.Alert {
	return rail.Alert{
		ID:        g.newID(),
		TrainID:   t.ID,
		AlertType: typ,
		Severity:  sev,
		Message:   msg,
		Section:   t.CurrentSection,
		CreatedAt: now,
	}
}
