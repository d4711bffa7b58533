// Package logger provides a small structured logging interface used across
// the offline-data-manager library so call sites never depend on the
// concrete destination (stdout, a file, or nothing at all in tests).
package logger

import (
	"log"
)

// Logger defines the interface for structured logging across the manager
// and engine. Implementations may log to console, a file, or discard
// everything.
type Logger interface {
	// Info logs an informational message (e.g., "drain cycle dispatched 2 items").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "retry attempt 2/6").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "transport error on item x").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger. Safe to call multiple
	// times. Returns nil for loggers without resources.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// Info logs an informational message with an [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with a [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with an [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op for StandardLogger (no resources to release).
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger discards all messages. Used in tests and as the zero-value
// default when the caller doesn't configure a logger.
type NopLogger struct{}

// Info discards the message.
func (NopLogger) Info(format string, args ...interface{}) {}

// Warning discards the message.
func (NopLogger) Warning(format string, args ...interface{}) {}

// Error discards the message.
func (NopLogger) Error(format string, args ...interface{}) {}

// Close is a no-op.
func (NopLogger) Close() error { return nil }
