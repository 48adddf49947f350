package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a logger on stdout tagged with the process component.
// LIFTOFF_LOG_LEVEL picks the level (info when unset or unknown) and
// LIFTOFF_LOG_FORMAT=console switches from JSON to human-readable lines.
func NewLogger(component string) zerolog.Logger {
	return newLogger(os.Stdout, component, os.Getenv("LIFTOFF_LOG_LEVEL"), os.Getenv("LIFTOFF_LOG_FORMAT"))
}

func newLogger(w io.Writer, component, level, format string) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Subsystem derives the logger of one part of a process, e.g. "server".
func Subsystem(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("subsystem", name).Logger()
}

func parseLogLevel(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
