// Package conflict finds head-on hazards between trains sharing a section.
package conflict

import (
	"math"
	"time"

	"railway-monitor/internal/geo"
	"railway-monitor/internal/rail"
)

const (
	// Horizon is the exclusive upper bound on time to conflict, in seconds.
	Horizon = 300.0
	// CriticalBelow and HighBelow split emitted conflicts into severity tiers.
	CriticalBelow = 60.0
	HighBelow     = 180.0
)

// TimeToConflict returns the seconds until a and b meet if they close on
// each other head-on in the same section. ok is false when the pair is not
// a head-on candidate or is not closing.
func TimeToConflict(a, b rail.Train) (ttc float64, ok bool) {
	ttc, _, ok = approach(a, b)
	return ttc, ok
}

// approach returns the time to conflict together with the gap in meters.
func approach(a, b rail.Train) (ttc, distance float64, ok bool) {
	if a.CurrentSection == "" || a.CurrentSection != b.CurrentSection {
		return 0, 0, false
	}
	if !a.Direction.Opposite(b.Direction) {
		return 0, 0, false
	}
	if a.SpeedKmh <= 0 || b.SpeedKmh <= 0 {
		return 0, 0, false
	}
	closing := geo.KmhToMps(a.SpeedKmh + b.SpeedKmh)
	if closing <= 0 {
		return math.Inf(1), 0, false
	}
	d := geo.Haversine(a.Position.Latitude, a.Position.Longitude, b.Position.Latitude, b.Position.Longitude)
	return d / closing, d, true
}

// Severity tiers a time to conflict: under CriticalBelow is Critical, under
// HighBelow is High, anything else Medium.
func Severity(ttc float64) rail.Severity {
	switch {
	case ttc < CriticalBelow:
		return rail.SeverityCritical
	case ttc < HighBelow:
		return rail.SeverityHigh
	default:
		return rail.SeverityMedium
	}
}

// Detect scans every unordered pair once, in input order, and returns the
// head-on conflicts whose time to conflict is under Horizon.
func Detect(trains []rail.Train, now time.Time) []rail.Conflict {
	var out []rail.Conflict
	for i := 0; i < len(trains); i++ {
		for j := i + 1; j < len(trains); j++ {
			a, b := trains[i], trains[j]
			ttc, d, ok := approach(a, b)
			if !ok || !(ttc < Horizon) {
				continue
			}
			out = append(out, rail.Conflict{
				TrainAID:              a.ID,
				TrainBID:              b.ID,
				SectionID:             a.CurrentSection,
				ConflictType:          rail.ConflictHeadOn,
				Severity:              Severity(ttc),
				TimeToConflictSeconds: ttc,
				DistanceMeters:        d,
				RelativeSpeedKmh:      a.SpeedKmh + b.SpeedKmh,
				DetectedAt:            now,
			})
		}
	}
	return out
}

// Detector binds Detect to a clock.
type Detector struct {
	now func() time.Time
}

// NewDetector uses time.Now when now is nil.
func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{now: now}
}

// Detect runs Detect stamped with the detector's clock in UTC.
func (d *Detector) Detect(trains []rail.Train) []rail.Conflict {
	return Detect(trains, d.now().UTC())
}
