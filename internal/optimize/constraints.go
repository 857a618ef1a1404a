package optimize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"railway-monitor/internal/rail"
)

type ConstraintKind string

const (
	KindSafetyDistance    ConstraintKind = "SafetyDistance"
	KindPlatformCapacity  ConstraintKind = "PlatformCapacity"
	KindPriorityRule      ConstraintKind = "PriorityRule"
	KindMaintenanceWindow ConstraintKind = "MaintenanceWindow"
	KindSpeedLimit        ConstraintKind = "SpeedLimit"
	KindCrossingWindow    ConstraintKind = "CrossingWindow"
)

// DefaultConstraintPriority applies when a constraint omits its priority.
const DefaultConstraintPriority = 5

// HardConstraintAtOrAbove marks constraints with priority 1..3 as hard for
// the solver.
const HardConstraintAtOrAbove = 3

// Constraint is one of the closed set of typed constraint variants below.
type Constraint interface {
	Kind() ConstraintKind
	// Rank is the constraint priority, 1 (highest) to 10.
	Rank() uint8
	Validate() error
	// params flattens the variant for the solver wire format.
	params() map[string]string
}

type SafetyDistance struct {
	Priority          uint8   `json:"priority,omitempty"`
	MinDistanceMeters float64 `json:"min_distance_meters"`
	MinHeadwaySeconds uint32  `json:"min_headway_seconds"`
}

type PlatformCapacity struct {
	Priority uint8  `json:"priority,omitempty"`
	Station  string `json:"station"`
	Capacity uint32 `json:"capacity"`
}

type PriorityRule struct {
	Priority       uint8         `json:"priority,omitempty"`
	HigherPriority rail.Priority `json:"higher_priority"`
	LowerPriority  rail.Priority `json:"lower_priority"`
}

type MaintenanceWindow struct {
	Priority  uint8     `json:"priority,omitempty"`
	SectionID string    `json:"section_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

type SpeedLimit struct {
	Priority    uint8   `json:"priority,omitempty"`
	SectionID   string  `json:"section_id"`
	MaxSpeedKmh float64 `json:"max_speed_kmh"`
}

type CrossingWindow struct {
	Priority      uint8  `json:"priority,omitempty"`
	Location      string `json:"location"`
	WindowMinutes uint32 `json:"window_minutes"`
}

func (SafetyDistance) Kind() ConstraintKind    { return KindSafetyDistance }
func (PlatformCapacity) Kind() ConstraintKind  { return KindPlatformCapacity }
func (PriorityRule) Kind() ConstraintKind      { return KindPriorityRule }
func (MaintenanceWindow) Kind() ConstraintKind { return KindMaintenanceWindow }
func (SpeedLimit) Kind() ConstraintKind        { return KindSpeedLimit }
func (CrossingWindow) Kind() ConstraintKind    { return KindCrossingWindow }

func (c SafetyDistance) Rank() uint8    { return rank(c.Priority) }
func (c PlatformCapacity) Rank() uint8  { return rank(c.Priority) }
func (c PriorityRule) Rank() uint8      { return rank(c.Priority) }
func (c MaintenanceWindow) Rank() uint8 { return rank(c.Priority) }
func (c SpeedLimit) Rank() uint8        { return rank(c.Priority) }
func (c CrossingWindow) Rank() uint8    { return rank(c.Priority) }

func rank(p uint8) uint8 {
	if p == 0 {
		return DefaultConstraintPriority
	}
	return p
}

func checkRank(k ConstraintKind, p uint8) error {
	if p > 10 {
		return rail.Validationf("%s: priority must be 1..10, got %d", k, p)
	}
	return nil
}

func (c SafetyDistance) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if c.MinDistanceMeters < 0 {
		return rail.Validationf("SafetyDistance: min_distance_meters must be >= 0")
	}
	if c.MinDistanceMeters == 0 && c.MinHeadwaySeconds == 0 {
		return rail.Validationf("SafetyDistance: set min_distance_meters or min_headway_seconds")
	}
	return nil
}

func (c PlatformCapacity) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if strings.TrimSpace(c.Station) == "" {
		return rail.Validationf("PlatformCapacity: station must not be empty")
	}
	if c.Capacity == 0 {
		return rail.Validationf("PlatformCapacity: capacity must be at least 1")
	}
	return nil
}

func (c PriorityRule) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if !c.HigherPriority.Valid() || !c.LowerPriority.Valid() {
		return rail.Validationf("PriorityRule: unknown train priority")
	}
	if !c.HigherPriority.HigherThan(c.LowerPriority) {
		return rail.Validationf("PriorityRule: %s does not outrank %s", c.HigherPriority, c.LowerPriority)
	}
	return nil
}

func (c MaintenanceWindow) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if strings.TrimSpace(c.SectionID) == "" {
		return rail.Validationf("MaintenanceWindow: section_id must not be empty")
	}
	if !c.End.After(c.Start) {
		return rail.Validationf("MaintenanceWindow: end must be after start")
	}
	return nil
}

func (c SpeedLimit) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if strings.TrimSpace(c.SectionID) == "" {
		return rail.Validationf("SpeedLimit: section_id must not be empty")
	}
	if c.MaxSpeedKmh <= 0 {
		return rail.Validationf("SpeedLimit: max_speed_kmh must be > 0")
	}
	return nil
}

func (c CrossingWindow) Validate() error {
	if err := checkRank(c.Kind(), c.Priority); err != nil {
		return err
	}
	if strings.TrimSpace(c.Location) == "" {
		return rail.Validationf("CrossingWindow: location must not be empty")
	}
	if c.WindowMinutes == 0 {
		return rail.Validationf("CrossingWindow: window_minutes must be at least 1")
	}
	return nil
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func (c SafetyDistance) params() map[string]string {
	return map[string]string{
		"min_distance_meters": ftoa(c.MinDistanceMeters),
		"min_headway_seconds": strconv.FormatUint(uint64(c.MinHeadwaySeconds), 10),
	}
}

func (c PlatformCapacity) params() map[string]string {
	return map[string]string{"station": c.Station, "capacity": strconv.FormatUint(uint64(c.Capacity), 10)}
}

func (c PriorityRule) params() map[string]string {
	return map[string]string{"higher_priority": c.HigherPriority.String(), "lower_priority": c.LowerPriority.String()}
}

func (c MaintenanceWindow) params() map[string]string {
	return map[string]string{
		"section_id": c.SectionID,
		"start":      c.Start.UTC().Format(time.RFC3339),
		"end":        c.End.UTC().Format(time.RFC3339),
	}
}

func (c SpeedLimit) params() map[string]string {
	return map[string]string{"section_id": c.SectionID, "max_speed_kmh": ftoa(c.MaxSpeedKmh)}
}

func (c CrossingWindow) params() map[string]string {
	return map[string]string{"location": c.Location, "window_minutes": strconv.FormatUint(uint64(c.WindowMinutes), 10)}
}

func (c SafetyDistance) MarshalJSON() ([]byte, error) {
	type alias SafetyDistance
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c PlatformCapacity) MarshalJSON() ([]byte, error) {
	type alias PlatformCapacity
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c PriorityRule) MarshalJSON() ([]byte, error) {
	type alias PriorityRule
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c MaintenanceWindow) MarshalJSON() ([]byte, error) {
	type alias MaintenanceWindow
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c SpeedLimit) MarshalJSON() ([]byte, error) {
	type alias SpeedLimit
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

func (c CrossingWindow) MarshalJSON() ([]byte, error) {
	type alias CrossingWindow
	return json.Marshal(struct {
		Type ConstraintKind `json:"type"`
		alias
	}{c.Kind(), alias(c)})
}

// Constraints decodes a JSON array of "type"-tagged constraint objects.
type Constraints []Constraint

func (cs *Constraints) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return rail.Validationf("constraints: %v", err)
	}
	out := make(Constraints, 0, len(raws))
	for i, raw := range raws {
		c, err := DecodeConstraint(raw)
		if err != nil {
			return fmt.Errorf("constraints[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}

func DecodeConstraint(b []byte) (Constraint, error) {
	var head struct {
		Type ConstraintKind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, rail.Validationf("constraint: %v", err)
	}
	var (
		c   Constraint
		err error
	)
	switch head.Type {
	case KindSafetyDistance:
		c, err = decodeVariant[SafetyDistance](b)
	case KindPlatformCapacity:
		c, err = decodeVariant[PlatformCapacity](b)
	case KindPriorityRule:
		c, err = decodeVariant[PriorityRule](b)
	case KindMaintenanceWindow:
		c, err = decodeVariant[MaintenanceWindow](b)
	case KindSpeedLimit:
		c, err = decodeVariant[SpeedLimit](b)
	case KindCrossingWindow:
		c, err = decodeVariant[CrossingWindow](b)
	default:
		return nil, rail.Validationf("unknown constraint type %q", head.Type)
	}
	if err != nil {
		return nil, rail.Validationf("%s: %v", head.Type, err)
	}
	return c, nil
}

// decodeVariant is shared by constraints and what-if changes.
func decodeVariant[T any](b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

type ObjectiveKind string

const (
	MinimizeDelay             ObjectiveKind = "MinimizeDelay"
	MaximizeThroughput        ObjectiveKind = "MaximizeThroughput"
	MinimizeEnergyConsumption ObjectiveKind = "MinimizeEnergyConsumption"
	BalancedOptimal           ObjectiveKind = "BalancedOptimal"
)

// Objectives lists the supported objective kinds in a stable order.
func Objectives() []ObjectiveKind {
	return []ObjectiveKind{MinimizeDelay, MaximizeThroughput, MinimizeEnergyConsumption, BalancedOptimal}
}

// Objective is tagged by Type. Only BalancedOptimal carries weights. The
// bare string form ("MinimizeDelay") is accepted on input.
type Objective struct {
	Type             ObjectiveKind `json:"type"`
	DelayWeight      float64       `json:"delay_weight,omitempty"`
	ThroughputWeight float64       `json:"throughput_weight,omitempty"`
}

func (o *Objective) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*o = Objective{Type: ObjectiveKind(name)}
		return nil
	}
	type alias Objective
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return rail.Validationf("objective: %v", err)
	}
	*o = Objective(a)
	return nil
}

func (o Objective) Validate() error {
	switch o.Type {
	case MinimizeDelay, MaximizeThroughput, MinimizeEnergyConsumption:
		if o.DelayWeight != 0 || o.ThroughputWeight != 0 {
			return rail.Validationf("objective %s takes no weights", o.Type)
		}
		return nil
	case BalancedOptimal:
		if o.DelayWeight < 0 || o.ThroughputWeight < 0 {
			return rail.Validationf("objective weights must be >= 0")
		}
		if o.DelayWeight+o.ThroughputWeight == 0 {
			return rail.Validationf("BalancedOptimal needs a non-zero delay_weight or throughput_weight")
		}
		return nil
	default:
		return rail.Validationf("unknown objective %q", o.Type)
	}
}

// weights returns nil for single-criterion objectives.
func (o Objective) weights() map[string]float64 {
	if o.Type != BalancedOptimal {
		return nil
	}
	return map[string]float64{"delay": o.DelayWeight, "throughput": o.ThroughputWeight}
}
