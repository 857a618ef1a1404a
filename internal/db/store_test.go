package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"railway-monitor/internal/rail"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrain(number uint32, section string, status rail.Status) rail.Train {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	return rail.Train{
		ID:             uuid.NewString(),
		TrainNumber:    number,
		Name:           "Express",
		Priority:       rail.PriorityExpress,
		CurrentSection: section,
		Position:       rail.GeoPoint{Latitude: 28.6, Longitude: 77.2},
		SpeedKmh:       80,
		Direction:      rail.DirectionUp,
		Status:         status,
		Route:          []string{section, "NEXT"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	a := sampleTrain(101, "SEC-A", rail.StatusRunning)
	b := sampleTrain(102, "SEC-B", rail.StatusScheduled)
	c := sampleTrain(103, "SEC-A", rail.StatusDelayed)
	for _, tr := range []rail.Train{c, a, b} {
		require.NoError(t, s.CreateTrain(ctx, tr))
	}

	dup := sampleTrain(101, "SEC-Z", rail.StatusScheduled)
	assert.ErrorIs(t, s.CreateTrain(ctx, dup), rail.ErrConflict)

	got, err := s.GetTrain(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.TrainNumber, got.TrainNumber)
	assert.Equal(t, a.Route, got.Route)
	assert.True(t, a.UpdatedAt.Equal(got.UpdatedAt))

	byNum, err := s.GetTrainByNumber(ctx, 102)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byNum.ID)

	_, err = s.GetTrain(ctx, uuid.NewString())
	assert.ErrorIs(t, err, rail.ErrNotFound)

	all, err := s.ListTrains(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint32{101, 102, 103}, []uint32{all[0].TrainNumber, all[1].TrainNumber, all[2].TrainNumber})

	inA, err := s.ListTrainsBySection(ctx, "SEC-A")
	require.NoError(t, err)
	assert.Len(t, inA, 2)

	active, err := s.ListTrainsByStatus(ctx, []rail.Status{rail.StatusRunning, rail.StatusDelayed})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	prev := a.UpdatedAt
	a.SpeedKmh = 95
	a.UpdatedAt = a.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpdateTrain(ctx, a, prev))
	got, err = s.GetTrain(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.SpeedKmh)

	// a writer still holding the old version loses
	late := a
	late.SpeedKmh = 10
	late.UpdatedAt = a.UpdatedAt.Add(time.Minute)
	err = s.UpdateTrain(ctx, late, prev)
	assert.ErrorIs(t, err, ErrStale)
	assert.ErrorIs(t, err, rail.ErrConflict)
	got, err = s.GetTrain(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.SpeedKmh)

	dupNumber := a
	dupNumber.TrainNumber = 102
	dupNumber.UpdatedAt = a.UpdatedAt.Add(time.Second)
	err = s.UpdateTrain(ctx, dupNumber, a.UpdatedAt)
	assert.ErrorIs(t, err, rail.ErrConflict)
	assert.NotErrorIs(t, err, ErrStale)

	ghost := sampleTrain(999, "SEC-A", rail.StatusRunning)
	assert.ErrorIs(t, s.UpdateTrain(ctx, ghost, ghost.UpdatedAt), rail.ErrNotFound)

	assert.ErrorIs(t, s.DeleteTrain(ctx, a.ID), rail.ErrValidation, "running trains are never deleted")
	_, err = s.GetTrain(ctx, a.ID)
	require.NoError(t, err)

	speed := 60.0
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateEvent(ctx, rail.TrainEvent{
			ID:        uuid.NewString(),
			TrainID:   b.ID,
			EventType: rail.EventSpeedChange,
			SpeedKmh:  &speed,
			Timestamp: time.Date(2026, 5, 4, 8, i, 0, 0, time.UTC),
		}))
	}
	evs, err := s.ListEvents(ctx, b.ID, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Timestamp.After(evs[1].Timestamp))
	require.NotNil(t, evs[0].SpeedKmh)
	assert.Nil(t, evs[0].DelayMinutes)

	assert.ErrorIs(t, s.CreateEvent(ctx, rail.TrainEvent{ID: uuid.NewString(), TrainID: uuid.NewString(), EventType: rail.EventDelay, Timestamp: time.Now()}), rail.ErrNotFound)

	require.NoError(t, s.DeleteTrain(ctx, b.ID))
	assert.ErrorIs(t, s.DeleteTrain(ctx, b.ID), rail.ErrNotFound)
	evs, err = s.ListEvents(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := sampleTrain(7, "S", rail.StatusRunning)
	require.NoError(t, s.CreateTrain(ctx, tr))

	got, err := s.GetTrain(ctx, tr.ID)
	require.NoError(t, err)
	got.Route[0] = "MUTATED"

	again, err := s.GetTrain(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "S", again.Route[0])
}

// TestPGStore runs against a disposable database named by RAILWAY_TEST_DATABASE_URL.
func TestPGStore(t *testing.T) {
	dsn := os.Getenv("RAILWAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RAILWAY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	sqlDB, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Ping(ctx, sqlDB))

	s := NewPGStore(sqlDB)
	require.NoError(t, s.Migrate(ctx))
	_, err = sqlDB.ExecContext(ctx, `TRUNCATE trains CASCADE`)
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestPGStore_UnreachableIsUnavailable(t *testing.T) {
	sqlDB, err := Open("postgres://railway@127.0.0.1:1/railway?sslmode=disable&connect_timeout=2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	s := NewPGStore(sqlDB)
	ctx := context.Background()

	_, err = s.GetTrain(ctx, "T1")
	assert.ErrorIs(t, err, rail.ErrUnavailable)
	assert.Equal(t, rail.ErrUnavailable, rail.Kind(err))

	_, err = s.ListTrains(ctx)
	assert.ErrorIs(t, err, rail.ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), rail.ErrUnavailable)
	assert.ErrorIs(t, s.DeleteTrain(ctx, "T1"), rail.ErrUnavailable)
}

func TestMapStoreErr(t *testing.T) {
	cases := map[string]struct {
		err  error
		want error
	}{
		"dial":            {&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, rail.ErrUnavailable},
		"bad conn":        {driver.ErrBadConn, rail.ErrUnavailable},
		"deadline":        {context.DeadlineExceeded, rail.ErrUnavailable},
		"admin shutdown":  {&pgconn.PgError{Code: "57P01"}, rail.ErrUnavailable},
		"connection lost": {&pgconn.PgError{Code: "08006"}, rail.ErrUnavailable},
		"unique":          {&pgconn.PgError{Code: "23505", Detail: "Key (train_number)=(1) already exists."}, rail.ErrConflict},
		"syntax":          {&pgconn.PgError{Code: "42601"}, rail.ErrInternal},
		"other":           {errors.New("boom"), rail.ErrInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := mapStoreErr("op", tc.err)
			require.Error(t, err)
			assert.Equal(t, tc.want, rail.Kind(err))
		})
	}
	assert.NoError(t, mapStoreErr("op", nil))
}
