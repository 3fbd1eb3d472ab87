// Package telemetry wires the ambient observability stack shared by every
// pipeline stage: a zerolog logger, an optional stdout-exported OpenTelemetry
// tracer (one span per stage under --verbose), and an in-process Prometheus
// registry whose counters are folded into the JSON reporter's output.
package telemetry

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewLogger builds the base zerolog.Logger for a keron run. verbose raises
// the level to debug; color follows isatty unless forced.
func NewLogger(verbose bool, color bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// StderrIsTTY reports whether stderr is attached to a terminal, used to
// decide the default for --color=auto.
func StderrIsTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// StdoutIsTTY reports whether stdout is attached to a terminal, used to
// decide whether report output should be paged.
func StdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// WithComponent returns a child logger tagged with the given component name,
// mirroring the teacher's NewComponentLogger.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
