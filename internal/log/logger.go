package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the process logger.
type Config struct {
	Level   string    // "debug", "info", ... ; falls back to LOG_LEVEL
	Output  io.Writer // defaults to os.Stdout
	Service string
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the base logger exactly once; later calls are ignored.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		lvl := cfg.Level
		if lvl == "" {
			lvl = os.Getenv("LOG_LEVEL")
		}
		if lvl != "" {
			if parsed, err := zerolog.ParseLevel(lvl); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339Nano

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}
		service := cfg.Service
		if service == "" {
			service = "railwayd"
		}
		base = zerolog.New(writer).With().Timestamp().Str("service", service).Logger()
	})
}

func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Nop is handy for tests and optional collaborators.
func Nop() zerolog.Logger { return zerolog.Nop() }
