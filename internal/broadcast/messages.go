package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"railway-monitor/internal/rail"
)

// Message is one frame of the real-time protocol. The set of variants is
// closed; every variant serialises with a "type" discriminator.
type Message interface {
	Type() string
	isMessage()
}

const (
	TypeConnected        = "Connected"
	TypeTrainUpdate      = "TrainUpdate"
	TypeSectionUpdate    = "SectionUpdate"
	TypeDisruptionAlert  = "DisruptionAlert"
	TypeSystemAlert      = "SystemAlert"
	TypeError            = "Error"
	TypeSubscribe        = "Subscribe"
	TypeSubscribeSection = "SubscribeSection"
)

var ErrUnknownType = errors.New("unknown message type")

type Connected struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

type TrainUpdate struct {
	TrainID      string        `json:"train_id"`
	Position     rail.GeoPoint `json:"position"`
	SpeedKmh     float64       `json:"speed_kmh"`
	DelayMinutes int32         `json:"delay_minutes"`
	Status       rail.Status   `json:"status"`
	SectionID    string        `json:"section_id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SectionUpdate reports how many active trains occupy a section and which
// train pairs in it are in conflict ("<train_a_id>:<train_b_id>").
type SectionUpdate struct {
	SectionID string    `json:"section_id"`
	Occupancy uint32    `json:"occupancy"`
	Conflicts []string  `json:"conflicts"`
	Timestamp time.Time `json:"timestamp"`
}

type DisruptionType string

const (
	DisruptionWeather             DisruptionType = "Weather"
	DisruptionSignalFailure       DisruptionType = "SignalFailure"
	DisruptionTrackMaintenance    DisruptionType = "TrackMaintenance"
	DisruptionAccident            DisruptionType = "Accident"
	DisruptionStrike              DisruptionType = "StrikeFactor"
	DisruptionPowerFailure        DisruptionType = "PowerFailure"
	DisruptionRollingStockFailure DisruptionType = "RollingStockFailure"
)

func (d DisruptionType) Valid() bool {
	switch d {
	case DisruptionWeather, DisruptionSignalFailure, DisruptionTrackMaintenance, DisruptionAccident,
		DisruptionStrike, DisruptionPowerFailure, DisruptionRollingStockFailure:
		return true
	}
	return false
}

type DisruptionAlert struct {
	DisruptionID     string         `json:"disruption_id"`
	DisruptionType   DisruptionType `json:"disruption_type"`
	AffectedSections []string       `json:"affected_sections"`
	ImpactLevel      uint8          `json:"impact_level"`
	Description      string         `json:"description"`
	Timestamp        time.Time      `json:"timestamp"`
}

type SystemAlert struct {
	AlertType string        `json:"alert_type"`
	Message   string        `json:"message"`
	Severity  rail.Severity `json:"severity"`
	TrainID   string        `json:"train_id,omitempty"`
	SectionID string        `json:"section_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type Error struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribe replaces the client's train subscription set.
type Subscribe struct {
	TrainIDs []string `json:"train_ids"`
}

// SubscribeSection replaces the client's section subscription set.
type SubscribeSection struct {
	SectionIDs []string `json:"section_ids"`
}

func (Connected) Type() string        { return TypeConnected }
func (TrainUpdate) Type() string      { return TypeTrainUpdate }
func (SectionUpdate) Type() string    { return TypeSectionUpdate }
func (DisruptionAlert) Type() string  { return TypeDisruptionAlert }
func (SystemAlert) Type() string      { return TypeSystemAlert }
func (Error) Type() string            { return TypeError }
func (Subscribe) Type() string        { return TypeSubscribe }
func (SubscribeSection) Type() string { return TypeSubscribeSection }

func (Connected) isMessage()        {}
func (TrainUpdate) isMessage()      {}
func (SectionUpdate) isMessage()    {}
func (DisruptionAlert) isMessage()  {}
func (SystemAlert) isMessage()      {}
func (Error) isMessage()            {}
func (Subscribe) isMessage()        {}
func (SubscribeSection) isMessage() {}

func (m Connected) MarshalJSON() ([]byte, error) {
	type alias Connected
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeConnected, alias(m)})
}

func (m TrainUpdate) MarshalJSON() ([]byte, error) {
	type alias TrainUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeTrainUpdate, alias(m)})
}

func (m SectionUpdate) MarshalJSON() ([]byte, error) {
	type alias SectionUpdate
	if m.Conflicts == nil {
		m.Conflicts = []string{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSectionUpdate, alias(m)})
}

func (m DisruptionAlert) MarshalJSON() ([]byte, error) {
	type alias DisruptionAlert
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeDisruptionAlert, alias(m)})
}

func (m SystemAlert) MarshalJSON() ([]byte, error) {
	type alias SystemAlert
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSystemAlert, alias(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeError, alias(m)})
}

func (m Subscribe) MarshalJSON() ([]byte, error) {
	type alias Subscribe
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSubscribe, alias(m)})
}

func (m SubscribeSection) MarshalJSON() ([]byte, error) {
	type alias SubscribeSection
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSubscribeSection, alias(m)})
}

// Decode reads one frame. Unknown discriminators yield ErrUnknownType.
func Decode(b []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	var (
		m   Message
		err error
	)
	switch head.Type {
	case TypeConnected:
		m, err = decodeAs[Connected](b)
	case TypeTrainUpdate:
		m, err = decodeAs[TrainUpdate](b)
	case TypeSectionUpdate:
		m, err = decodeAs[SectionUpdate](b)
	case TypeDisruptionAlert:
		m, err = decodeAs[DisruptionAlert](b)
	case TypeSystemAlert:
		m, err = decodeAs[SystemAlert](b)
	case TypeError:
		m, err = decodeAs[Error](b)
	case TypeSubscribe:
		m, err = decodeAs[Subscribe](b)
	case TypeSubscribeSection:
		m, err = decodeAs[SubscribeSection](b)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}

func decodeAs[T Message](b []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// NewTrainUpdate projects a train onto its wire update.
func NewTrainUpdate(t rail.Train, at time.Time) TrainUpdate {
	return TrainUpdate{
		TrainID:      t.ID,
		Position:     t.Position,
		SpeedKmh:     t.SpeedKmh,
		DelayMinutes: t.DelayMinutes,
		Status:       t.Status,
		SectionID:    t.CurrentSection,
		Timestamp:    at,
	}
}

func AlertMessage(a rail.Alert) SystemAlert {
	return SystemAlert{
		AlertType: string(a.AlertType),
		Message:   a.Message,
		Severity:  a.Severity,
		TrainID:   a.TrainID,
		SectionID: a.Section,
		Timestamp: a.CreatedAt,
	}
}

func ConflictMessage(c rail.Conflict) SystemAlert {
	return SystemAlert{
		AlertType: string(c.ConflictType) + "Conflict",
		Message: fmt.Sprintf("Trains %s and %s in section %s: %.0f m apart, %.1f s to conflict",
			c.TrainAID, c.TrainBID, c.SectionID, c.DistanceMeters, c.TimeToConflictSeconds),
		Severity:  c.Severity,
		SectionID: c.SectionID,
		Timestamp: c.DetectedAt,
	}
}

// ConflictKey is how a conflicting pair is listed in SectionUpdate.
func ConflictKey(c rail.Conflict) string { return c.TrainAID + ":" + c.TrainBID }
