package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Collector struct {
	reg *prometheus.Registry

	MonitorTicks    prometheus.Counter
	MonitorSkipped  prometheus.Counter
	TickDuration    prometheus.Histogram
	MonitorInterval prometheus.Gauge // seconds
	FetchErrors     prometheus.Counter

	WSClients         prometheus.Gauge
	MessagesDelivered *prometheus.CounterVec // type label
	MessagesDropped   *prometheus.CounterVec // type label

	Alerts    *prometheus.CounterVec // alert_type label
	Conflicts *prometheus.CounterVec // severity label

	OptimizeRequests *prometheus.CounterVec // kind: schedule|simulate, path: solver|fallback|invalid
	SolverDuration   prometheus.Histogram
	SolverReconnects prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.HistogramVec // method, route, status
}

func NewCollector(monitorInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_monitor_ticks_total",
			Help: "Monitoring ticks that ran detection.",
		}),
		MonitorSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_monitor_ticks_skipped_total",
			Help: "Monitoring ticks skipped because no observer was connected.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railway_monitor_tick_duration_seconds",
			Help:    "Duration of a monitoring tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		MonitorInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railway_monitor_interval_seconds",
			Help: "Configured monitoring interval in seconds.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_monitor_fetch_errors_total",
			Help: "Train fetches that failed during a tick.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railway_ws_clients",
			Help: "Number of connected real-time observers.",
		}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_ws_messages_queued_total",
			Help: "Messages queued for observers.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_ws_messages_dropped_total",
			Help: "Messages dropped because an observer queue was full.",
		}, []string{"type"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_alerts_total",
			Help: "Alerts raised by the monitoring loop.",
		}, []string{"alert_type"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_conflicts_total",
			Help: "Conflicts detected by the monitoring loop.",
		}, []string{"severity"}),
		OptimizeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railway_optimize_requests_total",
			Help: "Optimization requests by kind and resolution path.",
		}, []string{"kind", "path"}),
		SolverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railway_solver_call_duration_seconds",
			Help:    "Duration of solver RPCs, including failed ones.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		SolverReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_solver_reconnects_total",
			Help: "Forced solver reconnects.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railway_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railway_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railway_nats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railway_http_request_duration_seconds",
			Help:    "HTTP request latencies by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.MonitorTicks, c.MonitorSkipped, c.TickDuration, c.MonitorInterval, c.FetchErrors,
		c.WSClients, c.MessagesDelivered, c.MessagesDropped,
		c.Alerts, c.Conflicts,
		c.OptimizeRequests, c.SolverDuration, c.SolverReconnects,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests,
	)

	c.MonitorInterval.Set(monitorInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("event", "metrics.serve_failed").Msg("metrics server error")
		}
	}()
	log.Info().Str("event", "metrics.listening").Str("addr", addr).Msg("metrics listening")
	return srv
}

// The methods below let the collector satisfy the narrow metric interfaces
// declared by broadcast, monitor and optimize.

func (c *Collector) MessageDelivered(msgType string) { c.MessagesDelivered.WithLabelValues(msgType).Inc() }
func (c *Collector) MessageDropped(msgType string)   { c.MessagesDropped.WithLabelValues(msgType).Inc() }
func (c *Collector) ClientsConnected(n int)          { c.WSClients.Set(float64(n)) }

func (c *Collector) TickObserve(d time.Duration) {
	c.MonitorTicks.Inc()
	c.TickDuration.Observe(d.Seconds())
}
func (c *Collector) TickSkipped()                     { c.MonitorSkipped.Inc() }
func (c *Collector) FetchFailed()                     { c.FetchErrors.Inc() }
func (c *Collector) AlertRaised(alertType string)     { c.Alerts.WithLabelValues(alertType).Inc() }
func (c *Collector) ConflictDetected(severity string) { c.Conflicts.WithLabelValues(severity).Inc() }

func (c *Collector) OptimizeOutcome(kind, path string) {
	c.OptimizeRequests.WithLabelValues(kind, path).Inc()
}
func (c *Collector) SolverObserve(d time.Duration) { c.SolverDuration.Observe(d.Seconds()) }
func (c *Collector) SolverReconnected()            { c.SolverReconnects.Inc() }

func (c *Collector) HTTPObserve(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
