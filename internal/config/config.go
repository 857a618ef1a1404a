package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DatabaseURL is empty when no database is configured; the daemon then
	// keeps trains in memory.
	DatabaseURL string
	// CreateDatabase asks the daemon to create the configured database when
	// it is missing.
	CreateDatabase bool

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	MonitorInterval     time.Duration
	MonitorAlwaysDetect bool
	WSBufferSize        int

	Optimizer OptimizerConfig
}

type OptimizerConfig struct {
	Endpoint       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	// ReconnectAfter is the number of consecutive failed solver calls that
	// triggers a forced reconnect.
	ReconnectAfter int
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn
	cfg.CreateDatabase = parseBool(os.Getenv("DB_CREATE_IF_MISSING"))

	// Empty NATS_URL disables the event mirror.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "railway")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	var err error
	if cfg.MonitorInterval, err = positiveDuration("MONITOR_INTERVAL_SEC", time.Second, 10); err != nil {
		return nil, err
	}
	cfg.MonitorAlwaysDetect = parseBool(os.Getenv("MONITOR_ALWAYS_DETECT"))
	if cfg.WSBufferSize, err = positiveInt("WS_BUFFER_SIZE", 1000); err != nil {
		return nil, err
	}

	opt := &cfg.Optimizer
	opt.Endpoint = getenvDefault("OPTIMIZER_ENDPOINT", "localhost:50051")
	if opt.Timeout, err = positiveDuration("OPTIMIZER_TIMEOUT_SECONDS", time.Second, 30); err != nil {
		return nil, err
	}
	if opt.ConnectTimeout, err = positiveDuration("OPTIMIZER_CONNECT_TIMEOUT_SECONDS", time.Second, 5); err != nil {
		return nil, err
	}
	if opt.MaxRetries, err = positiveInt("OPTIMIZER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if v := os.Getenv("OPTIMIZER_RETRY_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid OPTIMIZER_RETRY_DELAY_MS: %q", v)
		}
		opt.RetryDelay = time.Duration(ms) * time.Millisecond
	} else {
		opt.RetryDelay = time.Second
	}
	if opt.ReconnectAfter, err = positiveInt("OPTIMIZER_RECONNECT_AFTER", 3); err != nil {
		return nil, err
	}

	return cfg, nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func positiveDuration(key string, unit time.Duration, def int) (time.Duration, error) {
	n, err := positiveInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
