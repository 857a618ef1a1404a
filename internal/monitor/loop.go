package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"railway-monitor/internal/alert"
	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/conflict"
	"railway-monitor/internal/rail"

	"github.com/rs/zerolog"
)

type Registry interface {
	Get(ctx context.Context, id string) (rail.Train, error)
	Active(ctx context.Context) ([]rail.Train, error)
}

type Hub interface {
	ClientCount() int
	SubscribedTrainIDs() []string
	Deliver(msg broadcast.Message) int
	Broadcast(msg broadcast.Message) int
}

// Sink receives a copy of everything a tick produces, e.g. the NATS publisher.
type Sink interface {
	PublishTrainUpdate(u broadcast.TrainUpdate) error
	PublishSectionUpdate(u broadcast.SectionUpdate) error
	PublishAlert(a rail.Alert) error
	PublishConflict(c rail.Conflict) error
}

type Metrics interface {
	TickObserve(d time.Duration)
	TickSkipped()
	FetchFailed()
	AlertRaised(alertType string)
	ConflictDetected(severity string)
}

type Config struct {
	Interval time.Duration
	// AlwaysDetect runs alert and conflict detection even when no observer
	// is connected. Otherwise a tick without clients does nothing.
	AlwaysDetect bool
}

type Loop struct {
	registry Registry
	hub      Hub
	cfg      Config
	alerts   *alert.Generator
	detector *conflict.Detector
	sink     Sink
	metrics  Metrics
	now      func() time.Time
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Loop)

func WithSink(s Sink) Option              { return func(l *Loop) { l.sink = s } }
func WithMetrics(m Metrics) Option        { return func(l *Loop) { l.metrics = m } }
func WithLogger(lg zerolog.Logger) Option { return func(l *Loop) { l.log = lg } }

// WithClock drives timestamps of updates, alerts and conflicts.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// WithAlertGenerator replaces the default generator (fresh UUIDs, wall clock).
func WithAlertGenerator(g *alert.Generator) Option { return func(l *Loop) { l.alerts = g } }

func New(reg Registry, hub Hub, cfg Config, opts ...Option) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	l := &Loop{
		registry: reg,
		hub:      hub,
		cfg:      cfg,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.alerts == nil {
		l.alerts = alert.NewGenerator(l.now, nil)
	}
	l.detector = conflict.NewDetector(l.now)
	return l
}

// TickReport summarises one tick.
type TickReport struct {
	Skipped        bool
	TrainUpdates   int
	FetchErrors    int
	Alerts         int
	Conflicts      int
	SectionUpdates int
	Duration       time.Duration
}

// Start runs Tick every interval until ctx is cancelled or Stop is called.
func (l *Loop) Start(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		l.log.Info().Str("event", "monitor.started").Dur("interval", l.cfg.Interval).Bool("always_detect", l.cfg.AlwaysDetect).Msg("monitoring loop started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Tick(ctx)
			}
		}
	}()
}

func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// Tick runs one monitoring pass. A failure on one item is logged and the
// pass continues with the next.
func (l *Loop) Tick(ctx context.Context) TickReport {
	start := time.Now()
	var rep TickReport
	clients := l.hub.ClientCount()
	if clients == 0 && !l.cfg.AlwaysDetect {
		rep.Skipped = true
		if l.metrics != nil {
			l.metrics.TickSkipped()
		}
		return rep
	}

	now := l.now().UTC()

	// 1. per-train updates for whatever observers subscribed to
	for _, id := range l.hub.SubscribedTrainIDs() {
		t, err := l.registry.Get(ctx, id)
		if err != nil {
			rep.FetchErrors++
			if l.metrics != nil {
				l.metrics.FetchFailed()
			}
			l.log.Warn().Err(err).Str("event", "monitor.fetch_failed").Str("train_id", id).Msg("skipping subscribed train")
			continue
		}
		u := broadcast.NewTrainUpdate(t, now)
		l.hub.Deliver(u)
		rep.TrainUpdates++
		l.mirror("train_update", func(s Sink) error { return s.PublishTrainUpdate(u) })
	}

	active, err := l.registry.Active(ctx)
	if err != nil {
		rep.FetchErrors++
		if l.metrics != nil {
			l.metrics.FetchFailed()
		}
		l.log.Error().Err(err).Str("event", "monitor.active_failed").Msg("listing active trains failed; detection skipped this tick")
		l.finish(&rep, start)
		return rep
	}

	// 2. alerts
	for _, a := range l.alerts.Generate(active) {
		l.hub.Broadcast(broadcast.AlertMessage(a))
		rep.Alerts++
		if l.metrics != nil {
			l.metrics.AlertRaised(string(a.AlertType))
		}
		l.mirror("alert", func(s Sink) error { return s.PublishAlert(a) })
	}

	// 3. conflicts
	conflicts := l.detector.Detect(active)
	for _, c := range conflicts {
		l.hub.Broadcast(broadcast.ConflictMessage(c))
		rep.Conflicts++
		if l.metrics != nil {
			l.metrics.ConflictDetected(string(c.Severity))
		}
		l.log.Warn().Str("event", "monitor.conflict").Str("section_id", c.SectionID).
			Str("train_a", c.TrainAID).Str("train_b", c.TrainBID).
			Float64("ttc_s", c.TimeToConflictSeconds).Str("severity", string(c.Severity)).Msg("conflict detected")
		l.mirror("conflict", func(s Sink) error { return s.PublishConflict(c) })
	}

	// 4. section occupancy
	for _, u := range sectionUpdates(active, conflicts, now) {
		l.hub.Deliver(u)
		rep.SectionUpdates++
		l.mirror("section_update", func(s Sink) error { return s.PublishSectionUpdate(u) })
	}

	l.finish(&rep, start)
	return rep
}

func (l *Loop) finish(rep *TickReport, start time.Time) {
	rep.Duration = time.Since(start)
	if l.metrics != nil {
		l.metrics.TickObserve(rep.Duration)
	}
	l.log.Debug().Str("event", "monitor.tick").
		Int("train_updates", rep.TrainUpdates).Int("alerts", rep.Alerts).
		Int("conflicts", rep.Conflicts).Int("fetch_errors", rep.FetchErrors).
		Dur("took", rep.Duration).Msg("tick complete")
}

func (l *Loop) mirror(kind string, fn func(Sink) error) {
	if l.sink == nil {
		return
	}
	if err := fn(l.sink); err != nil {
		l.log.Warn().Err(err).Str("event", "monitor.sink_failed").Str("kind", kind).Msg("mirror publish failed")
	}
}

// sectionUpdates groups active trains by section, in section order.
func sectionUpdates(active []rail.Train, conflicts []rail.Conflict, now time.Time) []broadcast.SectionUpdate {
	bySection := map[string]*broadcast.SectionUpdate{}
	for _, t := range active {
		if t.CurrentSection == "" {
			continue
		}
		u, ok := bySection[t.CurrentSection]
		if !ok {
			u = &broadcast.SectionUpdate{SectionID: t.CurrentSection, Conflicts: []string{}, Timestamp: now}
			bySection[t.CurrentSection] = u
		}
		u.Occupancy++
	}
	for _, c := range conflicts {
		if u, ok := bySection[c.SectionID]; ok {
			u.Conflicts = append(u.Conflicts, broadcast.ConflictKey(c))
		}
	}
	out := make([]broadcast.SectionUpdate, 0, len(bySection))
	for _, u := range bySection {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out
}
