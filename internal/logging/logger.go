// Package logging builds the process-wide structured logger every
// component derives its own named sub-logger from.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

// New builds a root zerolog.Logger with timestamp and caller info, and
// sets the global level so library-internal log lines honor it too.
func New(opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	switch opts.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if opts.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().Timestamp().Caller().Str("service", "kvengine").Logger()
}

// Error logs err plus a set of context fields at error level.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Panic logs a recovered panic with a full stack trace, for use in a
// deferred recover().
func Panic(logger zerolog.Logger, recovered any, msg string, fields map[string]any) {
	event := logger.Error().Interface("panic", recovered).Str("stack", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
