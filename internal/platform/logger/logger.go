// Package logger provides structured logging for the relay server.
// Every accepted sample, held sample and frame change should be traceable through this.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output io.Writer
}

// Logger provides structured logging with context.
type Logger struct {
	zlog zerolog.Logger
}

// New creates a logger from options.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.ToLower(opts.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return &Logger{
		zlog: zerolog.New(out).Level(level).With().Timestamp().Str("app", "stface").Logger(),
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// With returns a child logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// Debug logs verbose diagnostics.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Info logs informational messages.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Error logs error messages.
func (l *Logger) Error(msg string, err error) {
	l.zlog.Error().Err(err).Msg(msg)
}

// Event logs a relay event for the session audit trail.
func (l *Logger) Event(eventType string, sessionID string, details string) {
	l.zlog.Info().
		Str("event", eventType).
		Str("session", sessionID).
		Msg(details)
}
