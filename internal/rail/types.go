package rail

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders trains by precedence; a lower value wins.
type Priority uint8

const (
	PriorityEmergency   Priority = 1
	PriorityMail        Priority = 2
	PriorityExpress     Priority = 3
	PriorityPassenger   Priority = 4
	PriorityFreight     Priority = 5
	PriorityMaintenance Priority = 6
)

var priorityNames = map[Priority]string{
	PriorityEmergency:   "Emergency",
	PriorityMail:        "Mail",
	PriorityExpress:     "Express",
	PriorityPassenger:   "Passenger",
	PriorityFreight:     "Freight",
	PriorityMaintenance: "Maintenance",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// HigherThan reports whether p takes precedence over o.
func (p Priority) HigherThan(o Priority) bool { return p < o }

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", uint8(p))
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return 0, Validationf("unknown priority %q", s)
}

type Direction string

const (
	DirectionUp   Direction = "Up"
	DirectionDown Direction = "Down"
)

func (d Direction) Valid() bool { return d == DirectionUp || d == DirectionDown }

// Opposite reports whether d and o point against each other on the same track.
func (d Direction) Opposite(o Direction) bool {
	return d.Valid() && o.Valid() && d != o
}

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (g GeoPoint) Valid() bool {
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

type Train struct {
	ID             string    `json:"id"`
	TrainNumber    uint32    `json:"train_number"`
	Name           string    `json:"name"`
	Priority       Priority  `json:"priority"`
	CurrentSection string    `json:"current_section"`
	Position       GeoPoint  `json:"position"`
	DelayMinutes   int32     `json:"delay_minutes"`
	SpeedKmh       float64   `json:"speed_kmh"`
	Direction      Direction `json:"direction"`
	Status         Status    `json:"status"`
	Route          []string  `json:"route"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (t Train) IsDelayed() bool { return t.DelayMinutes > 0 }

// Clone returns a copy that shares no slices with t.
func (t Train) Clone() Train {
	c := t
	if t.Route != nil {
		c.Route = append([]string(nil), t.Route...)
	}
	return c
}

type ConflictType string

const (
	ConflictHeadOn        ConflictType = "HeadOn"
	ConflictSameDirection ConflictType = "SameDirection"
	ConflictOvertaking    ConflictType = "Overtaking"
	ConflictPlatform      ConflictType = "Platform"
)

// Severity is shared by conflicts and alerts.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Conflict is a pairwise hazard recomputed every monitoring tick.
type Conflict struct {
	TrainAID              string       `json:"train_a_id"`
	TrainBID              string       `json:"train_b_id"`
	SectionID             string       `json:"section_id"`
	ConflictType          ConflictType `json:"conflict_type"`
	Severity              Severity     `json:"severity"`
	TimeToConflictSeconds float64      `json:"time_to_conflict_seconds"`
	DistanceMeters        float64      `json:"distance_meters"`
	RelativeSpeedKmh      float64      `json:"relative_speed_kmh"`
	DetectedAt            time.Time    `json:"detected_at"`
}

type AlertType string

const (
	AlertHighDelay      AlertType = "HighDelay"
	AlertOverspeed      AlertType = "Overspeed"
	AlertStaleTelemetry AlertType = "StaleTelemetry"
)

type Alert struct {
	ID        string    `json:"id"`
	TrainID   string    `json:"train_id"`
	AlertType AlertType `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Section   string    `json:"section"`
	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventDeparture     EventType = "Departure"
	EventArrival       EventType = "Arrival"
	EventDelay         EventType = "Delay"
	EventSpeedChange   EventType = "SpeedChange"
	EventRouteChange   EventType = "RouteChange"
	EventStatusChange  EventType = "StatusChange"
	EventSectionChange EventType = "SectionChange"
)

// TrainEvent is an append-only record of a telemetry or status change.
type TrainEvent struct {
	ID           string    `json:"id"`
	TrainID      string    `json:"train_id"`
	EventType    EventType `json:"event_type"`
	Position     GeoPoint  `json:"position"`
	SectionID    string    `json:"section_id,omitempty"`
	SpeedKmh     *float64  `json:"speed_kmh,omitempty"`
	DelayMinutes *int32    `json:"delay_minutes,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
