package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"railway-monitor/internal/api"
	"railway-monitor/internal/broadcast"
	"railway-monitor/internal/config"
	"railway-monitor/internal/db"
	rlog "railway-monitor/internal/log"
	"railway-monitor/internal/metrics"
	"railway-monitor/internal/monitor"
	"railway-monitor/internal/optimize"
	"railway-monitor/internal/publisher"
	"railway-monitor/internal/registry"
	"railway-monitor/internal/solver"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		rlog.Base().Fatal().Err(err).Str("event", "config.invalid").Msg("config error")
	}
	rlog.Configure(rlog.Config{Level: cfg.LogLevel, Service: "railwayd"})
	logger := rlog.WithComponent("main")

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.MonitorInterval)
		srv := mcol.Serve(cfg.MetricsAddr, rlog.WithComponent("metrics"))
		defer shutdown(srv)
	}

	// Optional NATS mirror
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects,
			wrapPublisherMetrics(mcol), rlog.WithComponent("publisher"))
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	reg := registry.New(store, registry.WithLogger(rlog.WithComponent("registry")))

	hubOpts := []broadcast.HubOption{
		broadcast.WithQueueSize(cfg.WSBufferSize),
		broadcast.WithHubLogger(rlog.WithComponent("hub")),
	}
	if mcol != nil {
		hubOpts = append(hubOpts, broadcast.WithHubMetrics(mcol))
	}
	hub := broadcast.NewHub(hubOpts...)

	loopOpts := []monitor.Option{monitor.WithLogger(rlog.WithComponent("monitor"))}
	if mcol != nil {
		loopOpts = append(loopOpts, monitor.WithMetrics(mcol))
	}
	if pub != nil {
		loopOpts = append(loopOpts, monitor.WithSink(pub))
	}
	loop := monitor.New(reg, hub, monitor.Config{Interval: cfg.MonitorInterval, AlwaysDetect: cfg.MonitorAlwaysDetect}, loopOpts...)

	solverMgr := solver.NewManager(solver.Config{
		Endpoint:       cfg.Optimizer.Endpoint,
		ConnectTimeout: cfg.Optimizer.ConnectTimeout,
		MaxRetries:     cfg.Optimizer.MaxRetries,
		RetryDelay:     cfg.Optimizer.RetryDelay,
	}, solver.WithManagerLogger(rlog.WithComponent("solver")))
	defer solverMgr.Close()

	optOpts := []optimize.Option{optimize.WithLogger(rlog.WithComponent("optimize"))}
	if mcol != nil {
		optOpts = append(optOpts, optimize.WithMetrics(mcol))
	}
	orch := optimize.New(solverMgr, optimize.Config{
		Timeout:        cfg.Optimizer.Timeout,
		ReconnectAfter: cfg.Optimizer.ReconnectAfter,
	}, optOpts...)

	apiOpts := []api.Option{api.WithLogger(rlog.WithComponent("api")), api.WithVersion(version)}
	if mcol != nil {
		apiOpts = append(apiOpts, api.WithHTTPMetrics(mcol))
	}
	if pub != nil {
		apiOpts = append(apiOpts, api.WithDisruptionSink(pub))
	}
	srv := api.New(api.Deps{
		Trains:    reg,
		Optimizer: orch,
		Observers: hub,
		Store:     store,
		WS:        broadcast.NewHandler(hub, rlog.WithComponent("ws")),
	}, apiOpts...)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		loop.Start(ctx)
		<-ctx.Done()
		loop.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("event", "http.listening").Str("addr", cfg.HTTPAddr).Str("version", version).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdown(httpSrv)
		return nil
	})

	return g.Wait()
}

// openStore picks PostgreSQL when a DSN is configured and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (db.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Str("event", "db.memory").Msg("no database configured, keeping trains in memory")
		return db.NewMemoryStore(), func() {}, nil
	}
	if cfg.CreateDatabase {
		created, err := db.EnsureDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if created {
			logger.Info().Str("event", "db.created").Msg("created missing database")
		}
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	pg := db.NewPGStore(sqlDB)
	if err := pg.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	logger.Info().Str("event", "db.connected").Msg("connected to postgres")
	return pg, func() { _ = sqlDB.Close() }, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// wrapPublisherMetrics adapts the Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
