// Package registry is the single point through which trains are read and
// mutated. Reads are one round trip to the record store; writes are
// read-modify-write cycles made conditional on the version that was read.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"railway-monitor/internal/db"
	"railway-monitor/internal/rail"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Filter narrows List. Zero value lists every train.
type Filter struct {
	SectionID string
	Statuses  []rail.Status
}

// TelemetryUpdate is a partial update; nil fields are left untouched.
type TelemetryUpdate struct {
	Position     *rail.GeoPoint `json:"position,omitempty"`
	SpeedKmh     *float64       `json:"speed_kmh,omitempty"`
	DelayMinutes *int32         `json:"delay_minutes,omitempty"`
	Status       *rail.Status   `json:"status,omitempty"`
	SectionID    *string        `json:"section_id,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

type Registry struct {
	store db.Store
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithIDs(newID func() string) Option { return func(r *Registry) { r.newID = newID } }

func WithLogger(l zerolog.Logger) Option { return func(r *Registry) { r.log = l } }

func New(store db.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Get(ctx context.Context, id string) (rail.Train, error) {
	if strings.TrimSpace(id) == "" {
		return rail.Train{}, rail.Validationf("train id must not be empty")
	}
	return r.store.GetTrain(ctx, id)
}

func (r *Registry) List(ctx context.Context, f Filter) ([]rail.Train, error) {
	switch {
	case f.SectionID != "" && len(f.Statuses) > 0:
		trains, err := r.store.ListTrainsBySection(ctx, f.SectionID)
		if err != nil {
			return nil, err
		}
		return keepStatuses(trains, f.Statuses), nil
	case f.SectionID != "":
		return r.store.ListTrainsBySection(ctx, f.SectionID)
	case len(f.Statuses) > 0:
		return r.store.ListTrainsByStatus(ctx, f.Statuses)
	default:
		return r.store.ListTrains(ctx)
	}
}

// Active returns trains that are currently on the network.
func (r *Registry) Active(ctx context.Context) ([]rail.Train, error) {
	return r.store.ListTrainsByStatus(ctx, []rail.Status{rail.StatusRunning, rail.StatusDelayed, rail.StatusAtStation})
}

// Create assigns identity and timestamps and stores t. A zero status
// defaults to Scheduled.
func (r *Registry) Create(ctx context.Context, t rail.Train) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.Status == "" {
		t.Status = rail.StatusScheduled
	}
	t.ID = r.newID()
	now := r.now().UTC().Truncate(time.Microsecond)
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := r.store.CreateTrain(ctx, t); err != nil {
		return "", err
	}
	r.log.Info().Str("event", "train.created").Str("train_id", t.ID).Uint32("train_number", t.TrainNumber).Msg("train created")
	return t.ID, nil
}

// maxWriteAttempts bounds the read-modify-write retries of one mutation.
const maxWriteAttempts = 5

// mutate reads the train, lets apply derive the next state and writes it
// back only if nobody else wrote in between. A lost race re-reads and
// applies again, so updated_at only moves forward and no writer's change is
// dropped. apply must not keep state between attempts.
func (r *Registry) mutate(ctx context.Context, id string, apply func(cur rail.Train) (rail.Train, error)) (rail.Train, rail.Train, error) {
	for attempt := 1; ; attempt++ {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return rail.Train{}, rail.Train{}, err
		}
		next, err := apply(cur.Clone())
		if err != nil {
			return rail.Train{}, rail.Train{}, err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = rail.NextUpdatedAt(r.now(), cur.UpdatedAt)
		err = r.store.UpdateTrain(ctx, next, cur.UpdatedAt)
		if err == nil {
			return cur, next, nil
		}
		if !errors.Is(err, db.ErrStale) || attempt == maxWriteAttempts {
			return rail.Train{}, rail.Train{}, err
		}
		r.log.Debug().Str("event", "train.write_retry").Str("train_id", id).Int("attempt", attempt).Msg("train changed underneath, retrying")
	}
}

// Update fully replaces the train, keeping its id and creation time.
func (r *Registry) Update(ctx context.Context, id string, t rail.Train) (rail.Train, error) {
	if err := t.Validate(); err != nil {
		return rail.Train{}, err
	}
	_, next, err := r.mutate(ctx, id, func(cur rail.Train) (rail.Train, error) {
		n := t.Clone()
		if n.Status == "" {
			n.Status = cur.Status
		}
		if err := rail.CheckTransition(cur.Status, n.Status); err != nil {
			return rail.Train{}, err
		}
		return n, nil
	})
	if err != nil {
		return rail.Train{}, err
	}
	return next, nil
}

// Delete refuses to remove a Running train; the store checks the status and
// deletes in one step.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return rail.Validationf("train id must not be empty")
	}
	if err := r.store.DeleteTrain(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("event", "train.deleted").Str("train_id", id).Msg("train deleted")
	return nil
}

// UpdateTelemetry applies a partial update and appends the matching event.
func (r *Registry) UpdateTelemetry(ctx context.Context, id string, u TelemetryUpdate) (rail.Train, error) {
	if u.Position != nil && !u.Position.Valid() {
		return rail.Train{}, rail.Validationf("position out of range")
	}
	if u.SpeedKmh != nil && *u.SpeedKmh < 0 {
		return rail.Train{}, rail.Validationf("speed_kmh must be >= 0")
	}
	prev, next, err := r.mutate(ctx, id, func(cur rail.Train) (rail.Train, error) {
		if cur.Status.Terminal() {
			return rail.Train{}, rail.Validationf("train %s is %s", id, cur.Status)
		}
		return applyTelemetry(cur, u)
	})
	if err != nil {
		return rail.Train{}, err
	}

	ev := rail.TrainEvent{
		ID:           r.newID(),
		TrainID:      id,
		EventType:    classify(prev, next),
		Position:     next.Position,
		SectionID:    next.CurrentSection,
		SpeedKmh:     u.SpeedKmh,
		DelayMinutes: u.DelayMinutes,
		Reason:       u.Reason,
		Timestamp:    next.UpdatedAt,
	}
	if err := r.store.CreateEvent(ctx, ev); err != nil {
		// the train row is already written; the event trail is best effort
		r.log.Warn().Err(err).Str("event", "train.event_failed").Str("train_id", id).Msg("append train event")
	}
	return next, nil
}

func applyTelemetry(t rail.Train, u TelemetryUpdate) (rail.Train, error) {
	if u.Position != nil {
		t.Position = *u.Position
	}
	if u.SpeedKmh != nil {
		t.SpeedKmh = *u.SpeedKmh
	}
	if u.SectionID != nil {
		t.CurrentSection = *u.SectionID
	}
	if u.Status != nil {
		if err := rail.CheckTransition(t.Status, *u.Status); err != nil {
			return rail.Train{}, err
		}
		t.Status = *u.Status
	}
	if u.DelayMinutes != nil {
		t.DelayMinutes = *u.DelayMinutes
		if u.Status == nil {
			t.Status = rail.ApplyDelay(t.Status, t.DelayMinutes)
		}
	}
	return t, nil
}

// classify picks the most specific event type for a telemetry change.
func classify(prev, next rail.Train) rail.EventType {
	switch {
	case prev.Status != next.Status && next.Status == rail.StatusRunning && prev.Status != rail.StatusDelayed:
		return rail.EventDeparture
	case prev.Status != next.Status && (next.Status == rail.StatusAtStation || next.Status == rail.StatusTerminated):
		return rail.EventArrival
	case prev.DelayMinutes != next.DelayMinutes:
		return rail.EventDelay
	case prev.Status != next.Status:
		return rail.EventStatusChange
	case prev.CurrentSection != next.CurrentSection:
		return rail.EventSectionChange
	default:
		return rail.EventSpeedChange
	}
}

func (r *Registry) Events(ctx context.Context, id string, limit int) ([]rail.TrainEvent, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.store.ListEvents(ctx, id, limit)
}

// Statistics summarises the fleet.
type Statistics struct {
	TotalTrains         int            `json:"total_trains"`
	ActiveTrains        int            `json:"active_trains"`
	DelayedTrains       int            `json:"delayed_trains"`
	OnTimeTrains        int            `json:"on_time_trains"`
	AverageDelayMinutes float64        `json:"average_delay_minutes"`
	ByPriority          map[string]int `json:"by_priority"`
	ByStatus            map[string]int `json:"by_status"`
}

func (r *Registry) Statistics(ctx context.Context) (Statistics, error) {
	trains, err := r.store.ListTrains(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	return Summarize(trains), nil
}

// Summarize is exported so snapshots taken elsewhere can be summarised alike.
func Summarize(trains []rail.Train) Statistics {
	st := Statistics{
		TotalTrains: len(trains),
		ByPriority:  make(map[string]int),
		ByStatus:    make(map[string]int),
	}
	var delaySum int64
	for _, t := range trains {
		st.ByPriority[t.Priority.String()]++
		st.ByStatus[string(t.Status)]++
		if t.Status.Active() {
			st.ActiveTrains++
		}
		if t.IsDelayed() {
			st.DelayedTrains++
		} else {
			st.OnTimeTrains++
		}
		delaySum += int64(t.DelayMinutes)
	}
	if len(trains) > 0 {
		st.AverageDelayMinutes = float64(delaySum) / float64(len(trains))
	}
	return st
}

func keepStatuses(trains []rail.Train, statuses []rail.Status) []rail.Train {
	out := trains[:0]
	for _, t := range trains {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// IsNotFound is a small convenience for callers that branch on absence.
func IsNotFound(err error) bool { return errors.Is(err, rail.ErrNotFound) }
