package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"railway-monitor/internal/rail"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

type State int32

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type Config struct {
	Endpoint       string
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// Manager owns at most one connection to the solver. The connection is made
// on first use and reused; every call made through Do holds the manager lock
// for its whole duration, so solver calls are serialized.
type Manager struct {
	cfg      Config
	target   string
	dialOpts []grpc.DialOption
	log      zerolog.Logger

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client *Client
	state  atomic.Int32
}

type ManagerOption func(*Manager)

// WithDialOptions replaces the default insecure transport, e.g. with a
// bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) ManagerOption {
	return func(m *Manager) { m.dialOpts = opts }
}

func WithManagerLogger(l zerolog.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	m := &Manager{
		cfg:      cfg,
		target:   trimScheme(cfg.Endpoint),
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// trimScheme accepts endpoints written as URLs ("http://host:port").
func trimScheme(endpoint string) string {
	for _, p := range []string{"http://", "https://", "grpc://"} {
		if strings.HasPrefix(endpoint, p) {
			return strings.TrimSuffix(strings.TrimPrefix(endpoint, p), "/")
		}
	}
	return endpoint
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) Target() string { return m.target }

// EnsureConnected connects if there is no live connection yet.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.ensureLocked(ctx)
	return err
}

// ForceReconnect drops the current connection and dials again.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Warn().Str("event", "solver.reconnect").Str("target", m.target).Msg("reconnecting to solver")
	m.state.Store(int32(Reconnecting))
	m.closeLocked()
	_, err := m.ensureLocked(ctx)
	return err
}

// HealthCheck reports whether a connection exists or can be established.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if err := m.EnsureConnected(ctx); err != nil {
		m.log.Warn().Err(err).Str("event", "solver.health_failed").Str("target", m.target).Msg("solver health check failed")
		return false
	}
	return true
}

// Do runs fn with a connected client while holding the manager lock.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.ensureLocked(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn, m.client = nil, nil
	if m.State() != Reconnecting {
		m.state.Store(int32(Disconnected))
	}
}

func (m *Manager) ensureLocked(ctx context.Context) (*Client, error) {
	if m.client != nil {
		return m.client, nil
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				m.state.Store(int32(Disconnected))
				return nil, rail.Unavailable("connect solver", ctx.Err())
			case <-time.After(m.cfg.RetryDelay):
			}
		}
		cc, err := m.dial(ctx)
		if err == nil {
			m.conn = cc
			m.client = NewClient(cc)
			m.state.Store(int32(Connected))
			m.log.Info().Str("event", "solver.connected").Str("target", m.target).Int("attempt", attempt).Msg("connected to solver")
			return m.client, nil
		}
		lastErr = err
		m.log.Warn().Err(err).Str("event", "solver.connect_failed").Str("target", m.target).
			Int("attempt", attempt).Int("max_attempts", m.cfg.MaxRetries).Msg("solver connect attempt failed")
	}
	m.state.Store(int32(Disconnected))
	return nil, rail.Unavailable("connect solver", lastErr)
}

func (m *Manager) dial(ctx context.Context) (*grpc.ClientConn, error) {
	if m.target == "" {
		return nil, errors.New("no solver endpoint configured")
	}
	cc, err := grpc.NewClient(m.target, m.dialOpts...)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := waitReady(cctx, cc); err != nil {
		_ = cc.Close()
		return nil, err
	}
	return cc, nil
}

// waitReady kicks the lazy client connection and waits until it is usable.
// A transient failure on the first attempt is reported immediately instead
// of waiting out the backoff.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return fmt.Errorf("solver %s unreachable", cc.Target())
		case connectivity.Shutdown:
			return errors.New("solver connection shut down")
		}
		if !cc.WaitForStateChange(ctx, s) {
			return ctx.Err()
		}
	}
}

func (m *Manager) OptimizeSchedule(ctx context.Context, req *OptimizationRequest) (*OptimizationResponse, error) {
	var out *OptimizationResponse
	err := m.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.OptimizeSchedule(ctx, req)
		return err
	})
	return out, err
}

func (m *Manager) SimulateScenario(ctx context.Context, req *SimulationRequest) (*SimulationResponse, error) {
	var out *SimulationResponse
	err := m.Do(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = c.SimulateScenario(ctx, req)
		return err
	})
	return out, err
}
