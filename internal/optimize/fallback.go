package optimize

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"railway-monitor/internal/alert"
)

const (
	fallbackMessage           = "Solver unavailable: schedule generated by fallback heuristics"
	fallbackSimulationMessage = "Solver unavailable: scenario estimated by fallback heuristics"

	fallbackStationarySpeedKmh = 60.0
	fallbackMaxLegMinutes      = 120
	fallbackPlatforms          = 6
)

// fallback synthesizes responses that are structurally identical to real
// solver output. The random source is shared, so it is guarded.
type fallback struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newFallback(rng *rand.Rand) *fallback {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &fallback{rng: rng}
}

func (f *fallback) intIn(lo, hi int) int { return lo + f.rng.IntN(hi-lo+1) }

func (f *fallback) floatIn(lo, hi float64) float64 { return lo + f.rng.Float64()*(hi-lo) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func (f *fallback) schedule(req Request, now time.Time) Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	leg := min(req.TimeHorizonMinutes, fallbackMaxLegMinutes)
	out := Response{
		Success:                    true,
		OptimizedSchedule:          make([]ScheduleUpdate, 0, len(req.Trains)),
		ConflictsResolved:          uint32(f.intIn(0, 5)),
		TotalDelayReductionMinutes: round1(f.floatIn(0, 30)),
		Message:                    fallbackMessage,
		Fallback:                   true,
	}
	for _, t := range req.Trains {
		cruise := t.SpeedKmh
		if cruise <= 0 {
			cruise = fallbackStationarySpeedKmh
		}
		cruise = min(cruise, alert.OverspeedKmh)
		distance := cruise * float64(leg) / 60
		adj := int32(f.intIn(-10, 5))
		dep := now.Add(time.Duration(max(adj, 0)) * time.Minute)
		out.OptimizedSchedule = append(out.OptimizedSchedule, ScheduleUpdate{
			TrainID:          t.ID,
			NewDepartureTime: dep,
			NewArrivalTime:   dep.Add(time.Duration(leg) * time.Minute),
			AssignedPlatform: fmt.Sprintf("PF%d", f.intIn(1, fallbackPlatforms)),
			SpeedProfile: []SpeedPoint{
				{PositionKm: 0, SpeedKmh: round1(cruise * 0.8), TimeOffsetMinutes: 0},
				{PositionKm: round1(distance / 2), SpeedKmh: cruise, TimeOffsetMinutes: float64(leg) / 2},
				{PositionKm: round1(distance), SpeedKmh: cruise, TimeOffsetMinutes: float64(leg)},
			},
			DelayAdjustmentMinutes: adj,
		})
	}
	out.ObjectiveValue = round1(f.floatIn(70, 100))
	return out
}

func (f *fallback) simulation(req SimulationRequest, now time.Time) SimulationResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	trains := len(req.BaseTrains)
	events := []SimulationEvent{{
		Timestamp:   now,
		EventType:   "SimulationStart",
		SectionID:   req.SectionID,
		Description: fmt.Sprintf("Scenario %q started with %d base trains", req.ScenarioName, trains),
	}}
	var recs []string
	for i, c := range req.WhatIfChanges {
		ev := SimulationEvent{
			Timestamp: now.Add(time.Duration(i+1) * time.Minute),
			EventType: string(c.Kind()),
			SectionID: req.SectionID,
		}
		switch v := c.(type) {
		case AddTrain:
			trains++
			ev.TrainID = v.Train.ID
			ev.Description = fmt.Sprintf("Train %d added", v.Train.TrainNumber)
		case RemoveTrain:
			trains = max(trains-1, 0)
			ev.TrainID = v.TrainID
			ev.Description = "Train removed from the scenario"
		case DelayTrain:
			ev.TrainID = v.TrainID
			ev.Description = fmt.Sprintf("Train delayed by %d minutes", v.DelayMinutes)
		case ChangeTrainRoute:
			ev.TrainID = v.TrainID
			ev.Description = fmt.Sprintf("Train rerouted over %d sections", len(v.Route))
		case BlockSection:
			ev.SectionID = v.SectionID
			ev.Description = fmt.Sprintf("Section blocked for %d minutes", v.DurationMinutes)
			recs = append(recs, fmt.Sprintf("Reroute traffic around section %s while it is blocked", v.SectionID))
		case ChangeCapacity:
			ev.SectionID = v.SectionID
			ev.Description = fmt.Sprintf("Section capacity set to %d", v.Capacity)
		}
		events = append(events, ev)
	}
	recs = append(recs,
		"Consider dynamic platform assignment",
		"Review freight paths during passenger peaks",
	)

	baselineDelay := f.floatIn(10, 30)
	scenarioDelay := baselineDelay * f.floatIn(0.7, 0.95)
	baselineThroughput := f.floatIn(15, 25)
	scenarioThroughput := baselineThroughput * f.floatIn(1.05, 1.20)

	return SimulationResponse{
		Success:      true,
		ScenarioName: req.ScenarioName,
		SimulationResults: SimulationResults{
			TotalTrainsProcessed:    uint32(trains),
			AverageDelayMinutes:     round1(scenarioDelay),
			ThroughputTrainsPerHour: round1(scenarioThroughput),
			ConflictsDetected:       uint32(f.intIn(0, 3)),
			UtilizationPercent:      round1(f.floatIn(75, 95)),
			TimelineEvents:          events,
		},
		PerformanceComparison: PerformanceComparison{
			BaselineDelayMinutes:         round1(baselineDelay),
			ScenarioDelayMinutes:         round1(scenarioDelay),
			ImprovementPercent:           round1((baselineDelay - scenarioDelay) / baselineDelay * 100),
			BaselineThroughput:           round1(baselineThroughput),
			ScenarioThroughput:           round1(scenarioThroughput),
			ThroughputImprovementPercent: round1((scenarioThroughput - baselineThroughput) / baselineThroughput * 100),
		},
		Recommendations: recs,
		Message:         fallbackSimulationMessage,
		Fallback:        true,
	}
}
