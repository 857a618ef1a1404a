package db

import (
	"context"
	"database/sql"
	"time"

	"railway-monitor/internal/rail"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is the record store behind the train registry. Implementations
// return rail.ErrNotFound and rail.ErrConflict for absent and duplicate rows,
// and rail.ErrUnavailable when the backing database cannot be reached.
type Store interface {
	GetTrain(ctx context.Context, id string) (rail.Train, error)
	GetTrainByNumber(ctx context.Context, number uint32) (rail.Train, error)
	ListTrains(ctx context.Context) ([]rail.Train, error)
	ListTrainsBySection(ctx context.Context, sectionID string) ([]rail.Train, error)
	ListTrainsByStatus(ctx context.Context, statuses []rail.Status) ([]rail.Train, error)
	CreateTrain(ctx context.Context, t rail.Train) error
	// UpdateTrain replaces the row only while its updated_at still equals
	// prevUpdatedAt; otherwise it returns ErrStale.
	UpdateTrain(ctx context.Context, t rail.Train, prevUpdatedAt time.Time) error
	// DeleteTrain refuses a Running train with rail.ErrValidation. The status
	// check and the delete are one atomic step.
	DeleteTrain(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e rail.TrainEvent) error
	// ListEvents returns the newest events first; limit <= 0 means all.
	ListEvents(ctx context.Context, trainID string, limit int) ([]rail.TrainEvent, error)

	Ping(ctx context.Context) error
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

func runningErr(id string) error {
	return rail.Validationf("train %s is running and cannot be deleted", id)
}
