package optimize

import (
	"time"

	"railway-monitor/internal/rail"
)

const (
	MaxHorizonMinutes  = 1440
	MaxSimulationHours = 24.0
)

type Request struct {
	SectionID          string       `json:"section_id"`
	Trains             []rail.Train `json:"trains"`
	Constraints        Constraints  `json:"constraints"`
	Objective          Objective    `json:"objective"`
	TimeHorizonMinutes int          `json:"time_horizon_minutes"`
}

type SpeedPoint struct {
	PositionKm        float64 `json:"position_km"`
	SpeedKmh          float64 `json:"speed_kmh"`
	TimeOffsetMinutes float64 `json:"time_offset_minutes"`
}

type ScheduleUpdate struct {
	TrainID                string       `json:"train_id"`
	NewDepartureTime       time.Time    `json:"new_departure_time"`
	NewArrivalTime         time.Time    `json:"new_arrival_time"`
	AssignedPlatform       string       `json:"assigned_platform,omitempty"`
	SpeedProfile           []SpeedPoint `json:"speed_profile"`
	DelayAdjustmentMinutes int32        `json:"delay_adjustment_minutes"`
}

// Response has the same shape whether the solver or the fallback produced
// it; Fallback tells them apart.
type Response struct {
	Success                    bool             `json:"success"`
	OptimizedSchedule          []ScheduleUpdate `json:"optimized_schedule"`
	ObjectiveValue             float64          `json:"objective_value"`
	ComputationTimeMs          uint64           `json:"computation_time_ms"`
	ConflictsResolved          uint32           `json:"conflicts_resolved"`
	TotalDelayReductionMinutes float64          `json:"total_delay_reduction_minutes"`
	Message                    string           `json:"message"`
	SolverStatus               string           `json:"solver_status,omitempty"`
	Fallback                   bool             `json:"fallback"`
}

type SimulationRequest struct {
	ScenarioName            string        `json:"scenario_name"`
	SectionID               string        `json:"section_id"`
	BaseTrains              []rail.Train  `json:"base_trains"`
	WhatIfChanges           WhatIfChanges `json:"what_if_changes"`
	SimulationDurationHours float64       `json:"simulation_duration_hours"`
}

type SimulationEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	TrainID     string    `json:"train_id,omitempty"`
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
	Success               bool                  `json:"success"`
	ScenarioName          string                `json:"scenario_name"`
	SimulationResults     SimulationResults     `json:"simulation_results"`
	PerformanceComparison PerformanceComparison `json:"performance_comparison"`
	Recommendations       []string              `json:"recommendations"`
	Message               string                `json:"message"`
	Fallback              bool                  `json:"fallback"`
}
