package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"railway-monitor/internal/rail"

	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
CREATE TABLE IF NOT EXISTS trains (
  id              TEXT PRIMARY KEY,
  train_number    BIGINT NOT NULL UNIQUE,
  name            TEXT NOT NULL,
  priority        SMALLINT NOT NULL,
  current_section TEXT NOT NULL DEFAULT '',
  latitude        DOUBLE PRECISION NOT NULL,
  longitude       DOUBLE PRECISION NOT NULL,
  delay_minutes   INTEGER NOT NULL DEFAULT 0,
  speed_kmh       DOUBLE PRECISION NOT NULL DEFAULT 0,
  direction       TEXT NOT NULL,
  status          TEXT NOT NULL,
  route           TEXT NOT NULL DEFAULT '[]',
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trains_section_idx ON trains (current_section);
CREATE INDEX IF NOT EXISTS trains_status_idx ON trains (status);

CREATE TABLE IF NOT EXISTS train_events (
  id            TEXT PRIMARY KEY,
  train_id      TEXT NOT NULL REFERENCES trains (id) ON DELETE CASCADE,
  event_type    TEXT NOT NULL,
  latitude      DOUBLE PRECISION NOT NULL,
  longitude     DOUBLE PRECISION NOT NULL,
  section_id    TEXT NOT NULL DEFAULT '',
  speed_kmh     DOUBLE PRECISION,
  delay_minutes INTEGER,
  reason        TEXT NOT NULL DEFAULT '',
  ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS train_events_train_ts_idx ON train_events (train_id, ts DESC);
`

const trainColumns = `id, train_number, name, priority, current_section, latitude, longitude,
       delay_minutes, speed_kmh, direction, status, route, created_at, updated_at`

// PGStore is the PostgreSQL record store, reached through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

// Migrate creates the tables if they do not exist yet.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return mapStoreErr("migrate", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error { return mapStoreErr("ping", Ping(ctx, s.db)) }

func (s *PGStore) GetTrain(ctx context.Context, id string) (rail.Train, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trainColumns+` FROM trains WHERE id = $1`, id)
	t, err := scanTrain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rail.Train{}, rail.NotFoundf("train %s", id)
	}
	if err != nil {
		return rail.Train{}, mapStoreErr("get train "+id, err)
	}
	return t, nil
}

func (s *PGStore) GetTrainByNumber(ctx context.Context, number uint32) (rail.Train, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trainColumns+` FROM trains WHERE train_number = $1`, int64(number))
	t, err := scanTrain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rail.Train{}, rail.NotFoundf("train number %d", number)
	}
	if err != nil {
		return rail.Train{}, mapStoreErr(fmt.Sprintf("get train number %d", number), err)
	}
	return t, nil
}

func (s *PGStore) ListTrains(ctx context.Context) ([]rail.Train, error) {
	return s.queryTrains(ctx, `SELECT `+trainColumns+` FROM trains ORDER BY train_number`)
}

func (s *PGStore) ListTrainsBySection(ctx context.Context, sectionID string) ([]rail.Train, error) {
	return s.queryTrains(ctx, `SELECT `+trainColumns+` FROM trains WHERE current_section = $1 ORDER BY train_number`, sectionID)
}

func (s *PGStore) ListTrainsByStatus(ctx context.Context, statuses []rail.Status) ([]rail.Train, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return s.queryTrains(ctx, `SELECT `+trainColumns+` FROM trains WHERE status = ANY($1) ORDER BY train_number`, names)
}

func (s *PGStore) queryTrains(ctx context.Context, q string, args ...any) ([]rail.Train, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapStoreErr("query trains", err)
	}
	defer rows.Close()
	var out []rail.Train
	for rows.Next() {
		t, err := scanTrain(rows)
		if err != nil {
			return nil, mapStoreErr("scan train", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr("query trains", err)
	}
	return out, nil
}

func (s *PGStore) CreateTrain(ctx context.Context, t rail.Train) error {
	route, err := json.Marshal(t.Route)
	if err != nil {
		return err
	}
	q := `INSERT INTO trains (` + trainColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.db.ExecContext(ctx, q,
		t.ID, int64(t.TrainNumber), t.Name, int16(t.Priority), t.CurrentSection,
		t.Position.Latitude, t.Position.Longitude, t.DelayMinutes, t.SpeedKmh,
		string(t.Direction), string(t.Status), string(route), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return mapStoreErr(fmt.Sprintf("create train %d", t.TrainNumber), err)
	}
	return nil
}

// UpdateTrain writes t only if the stored row still carries prevUpdatedAt.
func (s *PGStore) UpdateTrain(ctx context.Context, t rail.Train, prevUpdatedAt time.Time) error {
	route, err := json.Marshal(t.Route)
	if err != nil {
		return err
	}
	q := `UPDATE trains SET train_number = $2, name = $3, priority = $4, current_section = $5,
       latitude = $6, longitude = $7, delay_minutes = $8, speed_kmh = $9, direction = $10,
       status = $11, route = $12, updated_at = $13
WHERE id = $1 AND updated_at = $14`
	res, err := s.db.ExecContext(ctx, q,
		t.ID, int64(t.TrainNumber), t.Name, int16(t.Priority), t.CurrentSection,
		t.Position.Latitude, t.Position.Longitude, t.DelayMinutes, t.SpeedKmh,
		string(t.Direction), string(t.Status), string(route), t.UpdatedAt, prevUpdatedAt,
	)
	if err != nil {
		return mapStoreErr("update train "+t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapStoreErr("update train "+t.ID, err)
	}
	if n > 0 {
		return nil
	}
	ok, err := s.exists(ctx, t.ID)
	if err != nil {
		return err
	}
	if !ok {
		return rail.NotFoundf("train %s", t.ID)
	}
	return ErrStale
}

// DeleteTrain removes the train and its events unless it is Running.
func (s *PGStore) DeleteTrain(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trains WHERE id = $1 AND status <> $2`, id, string(rail.StatusRunning))
	if err != nil {
		return mapStoreErr("delete train "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapStoreErr("delete train "+id, err)
	}
	if n > 0 {
		return nil
	}
	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return rail.NotFoundf("train %s", id)
	}
	return runningErr(id)
}

func (s *PGStore) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM trains WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, mapStoreErr("lookup train "+id, err)
	}
	return ok, nil
}

func (s *PGStore) CreateEvent(ctx context.Context, e rail.TrainEvent) error {
	q := `INSERT INTO train_events (id, train_id, event_type, latitude, longitude, section_id, speed_kmh, delay_minutes, reason, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	var speed sql.NullFloat64
	if e.SpeedKmh != nil {
		speed = sql.NullFloat64{Float64: *e.SpeedKmh, Valid: true}
	}
	var delay sql.NullInt32
	if e.DelayMinutes != nil {
		delay = sql.NullInt32{Int32: *e.DelayMinutes, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.TrainID, string(e.EventType), e.Position.Latitude, e.Position.Longitude,
		e.SectionID, speed, delay, e.Reason, e.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return rail.NotFoundf("train %s", e.TrainID)
		}
		return mapStoreErr("create event", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, trainID string, limit int) ([]rail.TrainEvent, error) {
	q := `SELECT id, train_id, event_type, latitude, longitude, section_id, speed_kmh, delay_minutes, reason, ts
FROM train_events WHERE train_id = $1 ORDER BY ts DESC`
	args := []any{trainID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapStoreErr("query train_events", err)
	}
	defer rows.Close()
	var out []rail.TrainEvent
	for rows.Next() {
		var (
			e     rail.TrainEvent
			typ   string
			speed sql.NullFloat64
			delay sql.NullInt32
		)
		if err := rows.Scan(&e.ID, &e.TrainID, &typ, &e.Position.Latitude, &e.Position.Longitude,
			&e.SectionID, &speed, &delay, &e.Reason, &e.Timestamp); err != nil {
			return nil, mapStoreErr("scan train_event", err)
		}
		e.EventType = rail.EventType(typ)
		if speed.Valid {
			v := speed.Float64
			e.SpeedKmh = &v
		}
		if delay.Valid {
			v := delay.Int32
			e.DelayMinutes = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr("query train_events", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrain(r rowScanner) (rail.Train, error) {
	var (
		t                 rail.Train
		number            int64
		priority          int16
		direction, status string
		route             string
	)
	err := r.Scan(&t.ID, &number, &t.Name, &priority, &t.CurrentSection,
		&t.Position.Latitude, &t.Position.Longitude, &t.DelayMinutes, &t.SpeedKmh,
		&direction, &status, &route, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return rail.Train{}, err
	}
	t.TrainNumber = uint32(number)
	t.Priority = rail.Priority(priority)
	t.Direction = rail.Direction(direction)
	t.Status = rail.Status(status)
	if err := json.Unmarshal([]byte(route), &t.Route); err != nil {
		return rail.Train{}, fmt.Errorf("decode route of train %s: %w", t.ID, err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
