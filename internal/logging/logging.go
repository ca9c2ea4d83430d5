// Package logging builds the structured loggers used across the service.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a timestamped logger writing to w (stderr when nil) at the given level.
// Unknown level names fall back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	logger.SetLevel(ParseLevel(level))
	return logger
}

// ParseLevel maps a level name to a log.Level.
func ParseLevel(level string) log.Level {
	l, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// With creates a child logger with the key-value pairs added to every entry.
func With(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}
