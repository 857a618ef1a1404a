// Package solver talks to the external schedule optimizer over gRPC.
//
// The service is railway_optimization.OptimizationService. Messages travel
// as JSON (content-subtype "json") rather than protobuf, so the peer must
// accept the json codec under the same full method names: a RegisterServer
// service in Go, or an optimizer started with a JSON serializer. A peer that
// only speaks the protobuf encoding rejects every call, and the orchestrator
// then answers from its fallback.
package solver

import "time"

type Status string

const (
	StatusOptimal           Status = "Optimal"
	StatusFeasible          Status = "Feasible"
	StatusInfeasible        Status = "Infeasible"
	StatusUnknown           Status = "Unknown"
	StatusTimeLimitExceeded Status = "TimeLimitExceeded"
)

// Solved reports whether the solver produced a usable schedule.
func (s Status) Solved() bool { return s == StatusOptimal || s == StatusFeasible }

type Train struct {
	ID                 string   `json:"id"`
	TrainNumber        uint32   `json:"train_number"`
	Priority           string   `json:"priority"`
	PriorityRank       uint8    `json:"priority_rank"`
	CurrentSpeedKmh    float64  `json:"current_speed_kmh"`
	MaxSpeedKmh        float64  `json:"max_speed_kmh"`
	DelayMinutes       int32    `json:"delay_minutes"`
	Direction          string   `json:"direction"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	OriginStation      string   `json:"origin_station"`
	DestinationStation string   `json:"destination_station"`
	RouteSections      []string `json:"route_sections"`
}

// Constraint parameters are flattened to strings on the wire.
type Constraint struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Priority         uint32            `json:"priority"`
	Parameters       map[string]string `json:"parameters"`
	IsHardConstraint bool              `json:"is_hard_constraint"`
}

type Objective struct {
	PrimaryObjective    string             `json:"primary_objective"`
	Weights             map[string]float64 `json:"weights,omitempty"`
	TimeLimitSeconds    float64            `json:"time_limit_seconds"`
	EnablePreprocessing bool               `json:"enable_preprocessing"`
}

type OptimizationRequest struct {
	RequestID          string       `json:"request_id"`
	SectionID          string       `json:"section_id"`
	TimeHorizonMinutes uint32       `json:"time_horizon_minutes"`
	Trains             []Train      `json:"trains"`
	Constraints        []Constraint `json:"constraints"`
	Objective          Objective    `json:"objective"`
	RequestedAt        time.Time    `json:"requested_at"`
}

type SpeedPoint struct {
	PositionKm        float64 `json:"position_km"`
	SpeedKmh          float64 `json:"speed_kmh"`
	TimeOffsetMinutes float64 `json:"time_offset_minutes"`
}

type ScheduleEntry struct {
	TrainID                string       `json:"train_id"`
	TrainNumber            uint32       `json:"train_number"`
	ScheduledDeparture     time.Time    `json:"scheduled_departure"`
	ScheduledArrival       time.Time    `json:"scheduled_arrival"`
	Platform               uint32       `json:"platform"` // 0 = unassigned
	DelayAdjustmentMinutes int32        `json:"delay_adjustment_minutes"`
	SpeedProfile           []SpeedPoint `json:"speed_profile"`
	ConflictsResolved      []string     `json:"conflicts_resolved,omitempty"`
}

type PerformanceMetrics struct {
	TotalDelayMinutes       float64 `json:"total_delay_minutes"`
	DelayReductionMinutes   float64 `json:"delay_reduction_minutes"`
	ConflictsResolved       uint32  `json:"conflicts_resolved"`
	ThroughputTrainsPerHour float64 `json:"throughput_trains_per_hour"`
	ObjectiveValue          float64 `json:"objective_value"`
}

type OptimizationResponse struct {
	RequestID         string              `json:"request_id"`
	Status            Status              `json:"status"`
	OptimizedSchedule []ScheduleEntry     `json:"optimized_schedule"`
	KPIs              *PerformanceMetrics `json:"kpis"`
	Reasoning         string              `json:"reasoning"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	ConfidenceScore   float64             `json:"confidence_score"`
	ExecutionTimeMs   uint64              `json:"execution_time_ms"`
	CompletedAt       time.Time           `json:"completed_at"`
}

// Modification is one what-if change; the typed variants are flattened
// into Parameters the same way constraints are.
type Modification struct {
	Type       string            `json:"type"`
	TrainID    string            `json:"train_id,omitempty"`
	SectionID  string            `json:"section_id,omitempty"`
	Train      *Train            `json:"train,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type SimulationRequest struct {
	RequestID               string          `json:"request_id"`
	ScenarioName            string          `json:"scenario_name"`
	SectionID               string          `json:"section_id"`
	BaseSchedule            []ScheduleEntry `json:"base_schedule"`
	BaseTrains              []Train         `json:"base_trains"`
	Modifications           []Modification  `json:"modifications"`
	SimulationDurationHours float64         `json:"simulation_duration_hours"`
}

type SimulationEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	TrainID     string    `json:"train_id"`
	SectionID   string    `json:"section_id"`
	Description string    `json:"description"`
}

type SimulationResults struct {
	TotalTrainsProcessed    uint32            `json:"total_trains_processed"`
	AverageDelayMinutes     float64           `json:"average_delay_minutes"`
	ThroughputTrainsPerHour float64           `json:"throughput_trains_per_hour"`
	ConflictsDetected       uint32            `json:"conflicts_detected"`
	UtilizationPercent      float64           `json:"utilization_percent"`
	TimelineEvents          []SimulationEvent `json:"timeline_events"`
}

type PerformanceComparison struct {
	BaselineDelayMinutes         float64 `json:"baseline_delay_minutes"`
	ScenarioDelayMinutes         float64 `json:"scenario_delay_minutes"`
	ImprovementPercent           float64 `json:"improvement_percent"`
	BaselineThroughput           float64 `json:"baseline_throughput"`
	ScenarioThroughput           float64 `json:"scenario_throughput"`
	ThroughputImprovementPercent float64 `json:"throughput_improvement_percent"`
}

type SimulationResponse struct {
	RequestID             string                 `json:"request_id"`
	Success               bool                   `json:"success"`
	ScenarioName          string                 `json:"scenario_name"`
	SimulationResults     *SimulationResults     `json:"simulation_results"`
	PerformanceComparison *PerformanceComparison `json:"performance_comparison"`
	Recommendations       []string               `json:"recommendations"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
}
