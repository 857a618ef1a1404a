// Package optimize validates optimization and simulation requests, hands
// them to the external solver and, when the solver cannot answer, produces
// a structurally identical fallback. Only validation errors reach callers.
package optimize

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"railway-monitor/internal/rail"
	"railway-monitor/internal/solver"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Solver is satisfied by *solver.Manager.
type Solver interface {
	OptimizeSchedule(ctx context.Context, req *solver.OptimizationRequest) (*solver.OptimizationResponse, error)
	SimulateScenario(ctx context.Context, req *solver.SimulationRequest) (*solver.SimulationResponse, error)
	HealthCheck(ctx context.Context) bool
	ForceReconnect(ctx context.Context) error
}

type Metrics interface {
	OptimizeOutcome(kind, path string)
	SolverObserve(d time.Duration)
	SolverReconnected()
}

const (
	kindSchedule = "schedule"
	kindSimulate = "simulate"

	pathSolver   = "solver"
	pathFallback = "fallback"
	pathInvalid  = "invalid"
)

type Config struct {
	// Timeout bounds each solver call, connection set-up included.
	Timeout time.Duration
	// ReconnectAfter consecutive failed calls force a reconnect. Zero disables.
	ReconnectAfter int
}

type Orchestrator struct {
	solver   Solver
	cfg      Config
	fallback *fallback
	metrics  Metrics
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	failures atomic.Int32
}

type Option func(*Orchestrator)

// WithRand makes fallback output reproducible.
func WithRand(r *rand.Rand) Option          { return func(o *Orchestrator) { o.fallback = newFallback(r) } }
func WithMetrics(m Metrics) Option          { return func(o *Orchestrator) { o.metrics = m } }
func WithLogger(l zerolog.Logger) Option    { return func(o *Orchestrator) { o.log = l } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }
func WithRequestIDs(f func() string) Option { return func(o *Orchestrator) { o.newID = f } }

// New builds an orchestrator. A nil solver means every valid request is
// answered by the fallback.
func New(s Solver, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	o := &Orchestrator{
		solver: s,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fallback == nil {
		o.fallback = newFallback(nil)
	}
	return o
}

func (o *Orchestrator) Objectives() []ObjectiveKind { return Objectives() }

// SolverAvailable runs the connection health check.
func (o *Orchestrator) SolverAvailable(ctx context.Context) bool {
	if o.solver == nil {
		return false
	}
	return o.solver.HealthCheck(ctx)
}

func (o *Orchestrator) OptimizeSchedule(ctx context.Context, req Request) (Response, error) {
	if req.Objective.Type == "" {
		req.Objective = Objective{Type: BalancedOptimal, DelayWeight: 0.7, ThroughputWeight: 0.3}
	}
	if err := ValidateRequest(req); err != nil {
		o.outcome(kindSchedule, pathInvalid)
		o.log.Warn().Err(err).Str("event", "optimize.invalid").Str("section_id", req.SectionID).Msg("optimization request rejected")
		return Response{}, err
	}
	id := o.newID()
	now := o.now().UTC()
	log := o.log.With().Str("request_id", id).Str("section_id", req.SectionID).Logger()

	var resp Response
	err := o.delegate(ctx, func(ctx context.Context) error {
		start := time.Now()
		w, err := o.solver.OptimizeSchedule(ctx, toWireRequest(id, req, now))
		o.observe(time.Since(start))
		if err != nil {
			return err
		}
		resp, err = fromWireResponse(w, now)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("event", "optimize.fallback").Int("trains", len(req.Trains)).Msg("solver unavailable, using fallback schedule")
		o.outcome(kindSchedule, pathFallback)
		resp = o.fallback.schedule(req, now)
	} else {
		o.outcome(kindSchedule, pathSolver)
	}
	log.Info().Str("event", "optimize.done").Bool("fallback", resp.Fallback).Bool("success", resp.Success).
		Uint32("conflicts_resolved", resp.ConflictsResolved).
		Float64("delay_reduction_min", resp.TotalDelayReductionMinutes).Msg("optimization completed")
	return resp, nil
}

func (o *Orchestrator) SimulateScenario(ctx context.Context, req SimulationRequest) (SimulationResponse, error) {
	if err := ValidateSimulation(req); err != nil {
		o.outcome(kindSimulate, pathInvalid)
		o.log.Warn().Err(err).Str("event", "simulate.invalid").Str("scenario", req.ScenarioName).Msg("simulation request rejected")
		return SimulationResponse{}, err
	}
	id := o.newID()
	now := o.now().UTC()
	log := o.log.With().Str("request_id", id).Str("scenario", req.ScenarioName).Logger()

	var resp SimulationResponse
	err := o.delegate(ctx, func(ctx context.Context) error {
		start := time.Now()
		w, err := o.solver.SimulateScenario(ctx, toWireSimulation(id, req))
		o.observe(time.Since(start))
		if err != nil {
			return err
		}
		resp, err = fromWireSimulation(w)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("event", "simulate.fallback").Msg("solver unavailable, using fallback simulation")
		o.outcome(kindSimulate, pathFallback)
		resp = o.fallback.simulation(req, now)
	} else {
		o.outcome(kindSimulate, pathSolver)
	}
	log.Info().Str("event", "simulate.done").Bool("fallback", resp.Fallback).
		Float64("throughput_improvement_pct", resp.PerformanceComparison.ThroughputImprovementPercent).Msg("simulation completed")
	return resp, nil
}

// delegate runs call under the solver timeout and tracks consecutive
// failures. A nil solver is reported as unavailable.
func (o *Orchestrator) delegate(ctx context.Context, call func(ctx context.Context) error) error {
	if o.solver == nil {
		return rail.Unavailable("solver", fmt.Errorf("no solver configured"))
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if err := call(cctx); err != nil {
		o.recordFailure(ctx)
		return err
	}
	o.failures.Store(0)
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context) {
	n := o.failures.Add(1)
	if o.cfg.ReconnectAfter <= 0 || int(n) < o.cfg.ReconnectAfter {
		return
	}
	o.failures.Store(0)
	if o.metrics != nil {
		o.metrics.SolverReconnected()
	}
	rctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if err := o.solver.ForceReconnect(rctx); err != nil {
		o.log.Warn().Err(err).Str("event", "optimize.reconnect_failed").Int32("failures", n).Msg("forced solver reconnect failed")
	}
}

func (o *Orchestrator) outcome(kind, path string) {
	if o.metrics != nil {
		o.metrics.OptimizeOutcome(kind, path)
	}
}

func (o *Orchestrator) observe(d time.Duration) {
	if o.metrics != nil {
		o.metrics.SolverObserve(d)
	}
}

// ValidateRequest applies every check that must pass before the solver is
// contacted.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.SectionID) == "" {
		return rail.Validationf("section_id must not be empty")
	}
	if len(req.Trains) == 0 {
		return rail.Validationf("at least one train is required")
	}
	if req.TimeHorizonMinutes < 1 || req.TimeHorizonMinutes > MaxHorizonMinutes {
		return rail.Validationf("time_horizon_minutes must be between 1 and %d, got %d", MaxHorizonMinutes, req.TimeHorizonMinutes)
	}
	if err := checkTrainIDs(req.Trains, "trains"); err != nil {
		return err
	}
	for i, c := range req.Constraints {
		if c == nil {
			return rail.Validationf("constraints[%d] is empty", i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("constraints[%d]: %w", i, err)
		}
	}
	return req.Objective.Validate()
}

func ValidateSimulation(req SimulationRequest) error {
	if strings.TrimSpace(req.ScenarioName) == "" {
		return rail.Validationf("scenario_name must not be empty")
	}
	if strings.TrimSpace(req.SectionID) == "" {
		return rail.Validationf("section_id must not be empty")
	}
	if !(req.SimulationDurationHours > 0 && req.SimulationDurationHours <= MaxSimulationHours) {
		return rail.Validationf("simulation_duration_hours must be in (0, %g], got %g", MaxSimulationHours, req.SimulationDurationHours)
	}
	if err := checkTrainIDs(req.BaseTrains, "base_trains"); err != nil {
		return err
	}
	adds := 0
	for i, c := range req.WhatIfChanges {
		if c == nil {
			return rail.Validationf("what_if_changes[%d] is empty", i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("what_if_changes[%d]: %w", i, err)
		}
		if c.Kind() == ChangeAddTrain {
			adds++
		}
	}
	if len(req.BaseTrains) == 0 && adds == 0 {
		return rail.Validationf("a scenario needs base_trains or an AddTrain change")
	}
	return nil
}

func checkTrainIDs(trains []rail.Train, field string) error {
	seen := make(map[string]struct{}, len(trains))
	for i, t := range trains {
		if strings.TrimSpace(t.ID) == "" {
			return rail.Validationf("%s[%d]: id must not be empty", field, i)
		}
		if _, dup := seen[t.ID]; dup {
			return rail.Validationf("%s: duplicate train id %q", field, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
