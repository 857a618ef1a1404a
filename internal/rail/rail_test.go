package rail

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTrain() Train {
	return Train{
		TrainNumber:    12951,
		Name:           "Rajdhani",
		Priority:       PriorityExpress,
		CurrentSection: "SEC-1",
		Position:       GeoPoint{Latitude: 28.6, Longitude: 77.2},
		SpeedKmh:       90,
		Direction:      DirectionUp,
		Route:          []string{"SEC-1", "SEC-2"},
	}
}

func TestTrainJSON_EnumsEncodeAsNames(t *testing.T) {
	tr := validTrain()
	tr.Status = StatusRunning
	b, err := json.Marshal(tr)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "Express", raw["priority"])
	assert.Equal(t, "Up", raw["direction"])
	assert.Equal(t, "Running", raw["status"])
	assert.Contains(t, raw, "train_number")
	assert.Contains(t, raw, "current_section")

	var back Train
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, PriorityExpress, back.Priority)
	assert.Equal(t, StatusRunning, back.Status)
}

func TestPriority_UnknownNameRejected(t *testing.T) {
	var p Priority
	err := json.Unmarshal([]byte(`"Royal"`), &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityEmergency.HigherThan(PriorityMaintenance))
	assert.False(t, PriorityFreight.HigherThan(PriorityPassenger))
}

func TestTrainValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Train)
	}{
		{"zero number", func(t *Train) { t.TrainNumber = 0 }},
		{"blank name", func(t *Train) { t.Name = "  " }},
		{"negative speed", func(t *Train) { t.SpeedKmh = -1 }},
		{"latitude", func(t *Train) { t.Position.Latitude = 91 }},
		{"longitude", func(t *Train) { t.Position.Longitude = -181 }},
		{"empty route", func(t *Train) { t.Route = nil }},
		{"blank route entry", func(t *Train) { t.Route = []string{"A", ""} }},
		{"direction", func(t *Train) { t.Direction = "Sideways" }},
		{"priority", func(t *Train) { t.Priority = 9 }},
	}
	require.NoError(t, validTrain().Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := validTrain()
			tc.mutate(&tr)
			err := tr.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusScheduled, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusDelayed))
	assert.True(t, CanTransition(StatusDelayed, StatusRunning))
	assert.True(t, CanTransition(StatusAtStation, StatusTerminated))
	assert.True(t, CanTransition(StatusTerminated, StatusTerminated))

	assert.False(t, CanTransition(StatusScheduled, StatusTerminated))
	assert.False(t, CanTransition(StatusTerminated, StatusRunning))
	assert.False(t, CanTransition(StatusCancelled, StatusScheduled))
	assert.False(t, CanTransition(StatusRunning, StatusScheduled))

	assert.ErrorIs(t, CheckTransition(StatusCancelled, StatusRunning), ErrValidation)
	assert.ErrorIs(t, CheckTransition(StatusRunning, "Flying"), ErrValidation)
}

func TestApplyDelay(t *testing.T) {
	assert.Equal(t, StatusDelayed, ApplyDelay(StatusRunning, 5))
	assert.Equal(t, StatusRunning, ApplyDelay(StatusDelayed, 0))
	assert.Equal(t, StatusRunning, ApplyDelay(StatusDelayed, -2))
	assert.Equal(t, StatusDelayed, ApplyDelay(StatusDelayed, 7))
	assert.Equal(t, StatusAtStation, ApplyDelay(StatusAtStation, 12))
	assert.Equal(t, StatusScheduled, ApplyDelay(StatusScheduled, 12))
}

func TestNextUpdatedAt_StrictlyIncreasing(t *testing.T) {
	prev := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	got := NextUpdatedAt(prev, prev)
	assert.True(t, got.After(prev))
	assert.Equal(t, prev.Add(time.Microsecond), got)

	earlier := prev.Add(-time.Hour)
	assert.Equal(t, prev.Add(time.Microsecond), NextUpdatedAt(earlier, prev))

	later := prev.Add(time.Second)
	assert.Equal(t, later, NextUpdatedAt(later, prev))

	assert.Equal(t, later, NextUpdatedAt(later, time.Time{}))
}

func TestKind(t *testing.T) {
	assert.Equal(t, ErrNotFound, Kind(NotFoundf("train %s", "x")))
	assert.Equal(t, ErrConflict, Kind(fmt.Errorf("create: %w", Conflictf("dup"))))
	assert.Equal(t, ErrUnavailable, Kind(Unavailable("dial", errors.New("refused"))))
	assert.Equal(t, ErrInternal, Kind(errors.New("boom")))
}
