package optimize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"railway-monitor/internal/alert"
	"railway-monitor/internal/rail"
	"railway-monitor/internal/solver"
)

// solverTimeLimitSeconds is what the solver is asked to stay within; the
// orchestrator's own call timeout is the hard bound.
const solverTimeLimitSeconds = 20.0

func toWireTrain(t rail.Train) solver.Train {
	w := solver.Train{
		ID:              t.ID,
		TrainNumber:     t.TrainNumber,
		Priority:        t.Priority.String(),
		PriorityRank:    uint8(t.Priority),
		CurrentSpeedKmh: t.SpeedKmh,
		MaxSpeedKmh:     alert.OverspeedKmh,
		DelayMinutes:    t.DelayMinutes,
		Direction:       string(t.Direction),
		Latitude:        t.Position.Latitude,
		Longitude:       t.Position.Longitude,
		RouteSections:   append([]string(nil), t.Route...),
	}
	if n := len(t.Route); n > 0 {
		w.OriginStation, w.DestinationStation = t.Route[0], t.Route[n-1]
	}
	return w
}

func toWireTrains(ts []rail.Train) []solver.Train {
	out := make([]solver.Train, 0, len(ts))
	for _, t := range ts {
		out = append(out, toWireTrain(t))
	}
	return out
}

func toWireConstraint(id string, c Constraint) solver.Constraint {
	return solver.Constraint{
		ID:               id,
		Type:             string(c.Kind()),
		Priority:         uint32(c.Rank()),
		Parameters:       c.params(),
		IsHardConstraint: c.Rank() <= HardConstraintAtOrAbove,
	}
}

func toWireRequest(id string, req Request, now time.Time) *solver.OptimizationRequest {
	out := &solver.OptimizationRequest{
		RequestID:          id,
		SectionID:          req.SectionID,
		TimeHorizonMinutes: uint32(req.TimeHorizonMinutes),
		Trains:             toWireTrains(req.Trains),
		Constraints:        make([]solver.Constraint, 0, len(req.Constraints)),
		Objective: solver.Objective{
			PrimaryObjective:    string(req.Objective.Type),
			Weights:             req.Objective.weights(),
			TimeLimitSeconds:    solverTimeLimitSeconds,
			EnablePreprocessing: true,
		},
		RequestedAt: now,
	}
	for i, c := range req.Constraints {
		out.Constraints = append(out.Constraints, toWireConstraint(id+"-c"+strconv.Itoa(i+1), c))
	}
	return out
}

var errMissingKPIs = errors.New("solver response has no kpis")

// fromWireResponse maps a solver answer back verbatim. An Infeasible status
// is a successful call that yields Success=false.
func fromWireResponse(w *solver.OptimizationResponse, now time.Time) (Response, error) {
	if w == nil {
		return Response{}, errors.New("empty solver response")
	}
	if w.KPIs == nil {
		return Response{}, errMissingKPIs
	}
	out := Response{
		Success:                    w.Status.Solved(),
		OptimizedSchedule:          make([]ScheduleUpdate, 0, len(w.OptimizedSchedule)),
		ObjectiveValue:             w.KPIs.ObjectiveValue,
		ComputationTimeMs:          w.ExecutionTimeMs,
		ConflictsResolved:          w.KPIs.ConflictsResolved,
		TotalDelayReductionMinutes: w.KPIs.DelayReductionMinutes,
		Message:                    w.Reasoning,
		SolverStatus:               string(w.Status),
	}
	if w.ErrorMessage != "" {
		out.Message = w.ErrorMessage
	}
	for _, e := range w.OptimizedSchedule {
		u := ScheduleUpdate{
			TrainID:                e.TrainID,
			NewDepartureTime:       e.ScheduledDeparture,
			NewArrivalTime:         e.ScheduledArrival,
			DelayAdjustmentMinutes: e.DelayAdjustmentMinutes,
			SpeedProfile:           make([]SpeedPoint, 0, len(e.SpeedProfile)),
		}
		if u.NewDepartureTime.IsZero() {
			u.NewDepartureTime = now
		}
		if u.NewArrivalTime.IsZero() {
			u.NewArrivalTime = u.NewDepartureTime.Add(2 * time.Hour)
		}
		if e.Platform > 0 {
			u.AssignedPlatform = fmt.Sprintf("PF%d", e.Platform)
		}
		for _, p := range e.SpeedProfile {
			u.SpeedProfile = append(u.SpeedProfile, SpeedPoint(p))
		}
		out.OptimizedSchedule = append(out.OptimizedSchedule, u)
	}
	return out, nil
}

func toWireModification(c WhatIfChange) solver.Modification {
	m := solver.Modification{Type: string(c.Kind())}
	switch v := c.(type) {
	case AddTrain:
		t := toWireTrain(v.Train)
		m.TrainID, m.SectionID, m.Train = v.Train.ID, v.Train.CurrentSection, &t
	case RemoveTrain:
		m.TrainID = v.TrainID
	case DelayTrain:
		m.TrainID = v.TrainID
		m.Parameters = map[string]string{"delay_minutes": strconv.Itoa(int(v.DelayMinutes))}
	case ChangeTrainRoute:
		m.TrainID = v.TrainID
		m.Parameters = map[string]string{"route": strings.Join(v.Route, ",")}
	case BlockSection:
		m.SectionID = v.SectionID
		m.Parameters = map[string]string{"duration_minutes": strconv.FormatUint(uint64(v.DurationMinutes), 10)}
	case ChangeCapacity:
		m.SectionID = v.SectionID
		m.Parameters = map[string]string{"capacity": strconv.FormatUint(uint64(v.Capacity), 10)}
	}
	return m
}

func toWireSimulation(id string, req SimulationRequest) *solver.SimulationRequest {
	out := &solver.SimulationRequest{
		RequestID:               id,
		ScenarioName:            req.ScenarioName,
		SectionID:               req.SectionID,
		BaseTrains:              toWireTrains(req.BaseTrains),
		BaseSchedule:            make([]solver.ScheduleEntry, 0, len(req.BaseTrains)),
		Modifications:           make([]solver.Modification, 0, len(req.WhatIfChanges)),
		SimulationDurationHours: req.SimulationDurationHours,
	}
	for _, t := range req.BaseTrains {
		out.BaseSchedule = append(out.BaseSchedule, solver.ScheduleEntry{
			TrainID:                t.ID,
			TrainNumber:            t.TrainNumber,
			DelayAdjustmentMinutes: t.DelayMinutes,
		})
	}
	for _, c := range req.WhatIfChanges {
		out.Modifications = append(out.Modifications, toWireModification(c))
	}
	return out
}

func fromWireSimulation(w *solver.SimulationResponse) (SimulationResponse, error) {
	if w == nil {
		return SimulationResponse{}, errors.New("empty solver response")
	}
	if w.SimulationResults == nil || w.PerformanceComparison == nil {
		return SimulationResponse{}, errors.New("solver simulation response is incomplete")
	}
	r := w.SimulationResults
	out := SimulationResponse{
		Success:      w.Success,
		ScenarioName: w.ScenarioName,
		SimulationResults: SimulationResults{
			TotalTrainsProcessed:    r.TotalTrainsProcessed,
			AverageDelayMinutes:     r.AverageDelayMinutes,
			ThroughputTrainsPerHour: r.ThroughputTrainsPerHour,
			ConflictsDetected:       r.ConflictsDetected,
			UtilizationPercent:      r.UtilizationPercent,
			TimelineEvents:          make([]SimulationEvent, 0, len(r.TimelineEvents)),
		},
		PerformanceComparison: PerformanceComparison(*w.PerformanceComparison),
		Recommendations:       append([]string{}, w.Recommendations...),
		Message:               w.ErrorMessage,
	}
	for _, e := range r.TimelineEvents {
		out.SimulationResults.TimelineEvents = append(out.SimulationResults.TimelineEvents, SimulationEvent(e))
	}
	return out, nil
}
