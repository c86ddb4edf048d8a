// Package zlog configures the structured logger every command shares:
// level parsing, a timestamped base logger and per-component children.
// A web service's audit trail, HTTP middleware and in-memory log buffer
// have no home in a single-process CLI, so none of that is here.
package zlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds the process-wide base logger. verbose selects debug
// level and a human-readable console writer (enabled by the "--verbose" flag);
// otherwise json output at info level, suitable for redirection into a
// log file alongside a --progress-file.
func Configure(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if verbose {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with component.
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
