package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"railway-monitor/internal/rail"
)

// MemoryStore keeps trains and events in process. It backs tests and the
// database-less mode of the daemon.
type MemoryStore struct {
	mu     sync.RWMutex
	trains map[string]rail.Train
	events map[string][]rail.TrainEvent // train id -> oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trains: make(map[string]rail.Train),
		events: make(map[string][]rail.TrainEvent),
	}
}

func (m *MemoryStore) GetTrain(_ context.Context, id string) (rail.Train, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trains[id]
	if !ok {
		return rail.Train{}, rail.NotFoundf("train %s", id)
	}
	return t.Clone(), nil
}

func (m *MemoryStore) GetTrainByNumber(_ context.Context, number uint32) (rail.Train, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trains {
		if t.TrainNumber == number {
			return t.Clone(), nil
		}
	}
	return rail.Train{}, rail.NotFoundf("train number %d", number)
}

func (m *MemoryStore) ListTrains(_ context.Context) ([]rail.Train, error) {
	return m.filter(func(rail.Train) bool { return true }), nil
}

func (m *MemoryStore) ListTrainsBySection(_ context.Context, sectionID string) ([]rail.Train, error) {
	return m.filter(func(t rail.Train) bool { return t.CurrentSection == sectionID }), nil
}

func (m *MemoryStore) ListTrainsByStatus(_ context.Context, statuses []rail.Status) ([]rail.Train, error) {
	want := make(map[rail.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	return m.filter(func(t rail.Train) bool {
		_, ok := want[t.Status]
		return ok
	}), nil
}

// filter snapshots matching trains under one read lock, ordered by train number.
func (m *MemoryStore) filter(keep func(rail.Train) bool) []rail.Train {
	m.mu.RLock()
	out := make([]rail.Train, 0, len(m.trains))
	for _, t := range m.trains {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TrainNumber < out[j].TrainNumber })
	return out
}

func (m *MemoryStore) CreateTrain(_ context.Context, t rail.Train) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trains[t.ID]; ok {
		return rail.Conflictf("train id %s already exists", t.ID)
	}
	if m.numberTaken(t.TrainNumber, "") {
		return rail.Conflictf("train number %d already exists", t.TrainNumber)
	}
	m.trains[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) UpdateTrain(_ context.Context, t rail.Train, prevUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trains[t.ID]
	if !ok {
		return rail.NotFoundf("train %s", t.ID)
	}
	if !cur.UpdatedAt.Equal(prevUpdatedAt) {
		return ErrStale
	}
	if m.numberTaken(t.TrainNumber, t.ID) {
		return rail.Conflictf("train number %d already exists", t.TrainNumber)
	}
	m.trains[t.ID] = t.Clone()
	return nil
}

// numberTaken must be called with mu held.
func (m *MemoryStore) numberTaken(number uint32, exceptID string) bool {
	for id, other := range m.trains {
		if id != exceptID && other.TrainNumber == number {
			return true
		}
	}
	return false
}

func (m *MemoryStore) DeleteTrain(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trains[id]
	if !ok {
		return rail.NotFoundf("train %s", id)
	}
	if cur.Status == rail.StatusRunning {
		return runningErr(id)
	}
	delete(m.trains, id)
	delete(m.events, id)
	return nil
}

func (m *MemoryStore) CreateEvent(_ context.Context, e rail.TrainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trains[e.TrainID]; !ok {
		return rail.NotFoundf("train %s", e.TrainID)
	}
	m.events[e.TrainID] = append(m.events[e.TrainID], e)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, trainID string, limit int) ([]rail.TrainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[trainID]
	n := len(evs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]rail.TrainEvent, 0, n)
	for i := len(evs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, evs[i])
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
