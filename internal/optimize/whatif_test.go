package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"railway-monitor/internal/rail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonUnmarshal(s string, v any) error { return json.Unmarshal([]byte(s), v) }

func jsonMarshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func validSimulation() SimulationRequest {
	added := testTrain("NEW-1", 70)
	return SimulationRequest{
		ScenarioName:            "monsoon block",
		SectionID:               "SEC-1",
		BaseTrains:              []rail.Train{testTrain("T1", 80), testTrain("T2", 60)},
		SimulationDurationHours: 4,
		WhatIfChanges: WhatIfChanges{
			AddTrain{Train: added},
			RemoveTrain{TrainID: "T2"},
			DelayTrain{TrainID: "T1", DelayMinutes: 15},
			ChangeTrainRoute{TrainID: "T1", Route: []string{"SEC-1", "SEC-9"}},
			BlockSection{SectionID: "SEC-4", DurationMinutes: 45},
			ChangeCapacity{SectionID: "SEC-5", Capacity: 2},
		},
	}
}

func TestWhatIfChangesJSON(t *testing.T) {
	body := `[
		{"type": "RemoveTrain", "train_id": "T9"},
		{"type": "DelayTrain", "train_id": "T1", "delay_minutes": -5},
		{"type": "ChangeRoute", "train_id": "T1", "route": ["A", "B"]},
		{"type": "BlockSection", "section_id": "SEC-2", "duration_minutes": 30},
		{"type": "ChangeCapacity", "section_id": "SEC-2", "capacity": 1}
	]`
	var cs WhatIfChanges
	require.NoError(t, jsonUnmarshal(body, &cs))
	require.Len(t, cs, 5)
	assert.Equal(t, RemoveTrain{TrainID: "T9"}, cs[0])
	assert.Equal(t, DelayTrain{TrainID: "T1", DelayMinutes: -5}, cs[1])
	assert.Equal(t, ChangeTrainRoute{TrainID: "T1", Route: []string{"A", "B"}}, cs[2])
	assert.Equal(t, ChangeBlockSection, cs[3].Kind())
	assert.Equal(t, ChangeSectionCapacity, cs[4].Kind())

	out, err := jsonMarshal(cs[3])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"BlockSection","section_id":"SEC-2","duration_minutes":30}`, out)

	err = jsonUnmarshal(`[{"type":"Teleport","train_id":"T1"}]`, &cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rail.ErrValidation))

	err = jsonUnmarshal(`[{"type":"DelayTrain","train_id":"T1","delay_minutes":"soon"}]`, &cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rail.ErrValidation))
}

func TestValidateSimulation(t *testing.T) {
	require.NoError(t, ValidateSimulation(validSimulation()))

	cases := map[string]func(*SimulationRequest){
		"no name":        func(r *SimulationRequest) { r.ScenarioName = "" },
		"no section":     func(r *SimulationRequest) { r.SectionID = "" },
		"zero duration":  func(r *SimulationRequest) { r.SimulationDurationHours = 0 },
		"too long":       func(r *SimulationRequest) { r.SimulationDurationHours = 24.5 },
		"duplicate base": func(r *SimulationRequest) { r.BaseTrains[1].ID = "T1" },
		"zero delay":     func(r *SimulationRequest) { r.WhatIfChanges = WhatIfChanges{DelayTrain{TrainID: "T1"}} },
		"empty route":    func(r *SimulationRequest) { r.WhatIfChanges = WhatIfChanges{ChangeTrainRoute{TrainID: "T1"}} },
		"invalid new train": func(r *SimulationRequest) {
			r.WhatIfChanges = WhatIfChanges{AddTrain{Train: rail.Train{ID: "X"}}}
		},
		"nothing to simulate": func(r *SimulationRequest) {
			r.BaseTrains = nil
			r.WhatIfChanges = WhatIfChanges{BlockSection{SectionID: "SEC-1", DurationMinutes: 10}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validSimulation()
			mutate(&req)
			err := ValidateSimulation(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, rail.ErrValidation), "got %v", err)
		})
	}

	onlyAdds := validSimulation()
	onlyAdds.BaseTrains = nil
	onlyAdds.WhatIfChanges = WhatIfChanges{AddTrain{Train: testTrain("N1", 50)}}
	assert.NoError(t, ValidateSimulation(onlyAdds))
	assert.NoError(t, ValidateSimulation(SimulationRequest{
		ScenarioName: "edge", SectionID: "S", SimulationDurationHours: 24, BaseTrains: []rail.Train{testTrain("T1", 0)},
	}))
}

func TestSimulate_FallbackTimeline(t *testing.T) {
	ms := &mockSolver{err: errors.New("solver down")}
	rec := newOutcomeRecorder()
	o := newTestOrchestrator(ms, WithMetrics(rec))

	req := validSimulation()
	resp, err := o.SimulateScenario(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.True(t, resp.Fallback)
	assert.Equal(t, "monsoon block", resp.ScenarioName)
	assert.Equal(t, uint32(2), resp.SimulationResults.TotalTrainsProcessed, "one added, one removed")

	events := resp.SimulationResults.TimelineEvents
	require.Len(t, events, 1+len(req.WhatIfChanges))
	assert.Equal(t, "SimulationStart", events[0].EventType)
	assert.Equal(t, epoch, events[0].Timestamp)
	for i, c := range req.WhatIfChanges {
		assert.Equal(t, string(c.Kind()), events[i+1].EventType)
		assert.True(t, events[i+1].Timestamp.After(events[i].Timestamp))
	}
	assert.Equal(t, "NEW-1", events[1].TrainID)
	assert.Equal(t, "SEC-4", events[5].SectionID)

	assert.Contains(t, resp.Recommendations, "Reroute traffic around section SEC-4 while it is blocked")
	assert.Len(t, resp.Recommendations, 3)

	pc := resp.PerformanceComparison
	assert.Less(t, pc.ScenarioDelayMinutes, pc.BaselineDelayMinutes)
	assert.Greater(t, pc.ScenarioThroughput, pc.BaselineThroughput)
	assert.Greater(t, pc.ImprovementPercent, 0.0)
	assert.Equal(t, 1, rec.outcomes["simulate/fallback"])
}

func TestSimulate_SolverAnswer(t *testing.T) {
	ms := &mockSolver{}
	o := newTestOrchestrator(ms)

	resp, err := o.SimulateScenario(context.Background(), validSimulation())
	require.NoError(t, err)
	assert.False(t, resp.Fallback)
	assert.Equal(t, uint32(2), resp.SimulationResults.TotalTrainsProcessed)
	assert.Equal(t, 12.0, resp.PerformanceComparison.ImprovementPercent)
	assert.Equal(t, []string{"solver says hi"}, resp.Recommendations)
	_, sims, _ := ms.calls()
	assert.Equal(t, 1, sims)
}

func TestSimulate_InvalidNeverReachesSolver(t *testing.T) {
	ms := &mockSolver{}
	o := newTestOrchestrator(ms)
	req := validSimulation()
	req.SimulationDurationHours = 48

	_, err := o.SimulateScenario(context.Background(), req)
	require.Error(t, err)
	_, sims, _ := ms.calls()
	assert.Zero(t, sims)
}

func TestToWireSimulation(t *testing.T) {
	w := toWireSimulation("sim-1", validSimulation())
	assert.Equal(t, "sim-1", w.RequestID)
	require.Len(t, w.BaseTrains, 2)
	assert.Equal(t, "Express", w.BaseTrains[0].Priority)
	assert.Equal(t, "NDLS", w.BaseTrains[0].OriginStation)
	assert.Equal(t, "ALD", w.BaseTrains[0].DestinationStation)
	require.Len(t, w.Modifications, 6)

	add := w.Modifications[0]
	require.NotNil(t, add.Train)
	assert.Equal(t, "NEW-1", add.TrainID)
	assert.Equal(t, "15", w.Modifications[2].Parameters["delay_minutes"])
	assert.Equal(t, "SEC-1,SEC-9", w.Modifications[3].Parameters["route"])
	assert.Equal(t, "45", w.Modifications[4].Parameters["duration_minutes"])
	assert.Equal(t, "2", w.Modifications[5].Parameters["capacity"])
}
