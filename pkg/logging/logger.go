// Package logging configures the global zerolog logger and hands out
// component loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Common field names.
const (
	FieldComponent  = "component"
	FieldReqID      = "req_id"
	FieldCode       = "code"
	FieldErrorClass = "error_class"
	FieldSymbol     = "symbol"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Unknown levels fall back
// to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual submissions (req_id, symbol, inflight, cursor)
//   - Completed requests
//   - Known farm status notices on the control channel
//   - Stale callbacks that were dropped
//   - Submission throttling waits
//
// Info: Normal operation events
//   - Connecting, ready, drained
//   - Batch summary (completed, skipped, retries, records)
//   - Persisted results
//
// Warn: Conditions that don't stop the batch
//   - Pacing errors and the backoff before a resubmission
//   - Requests skipped for permanent errors or exhausted retries
//   - Unrecognised control channel notices
//   - Batches ended early (lost connection, cancellation)
//
// Error: Conditions requiring attention
//   - Connect failures
//   - Submit failures
//   - Unclassified error codes on a request
//   - Connection closed before the batch drained
//
// Context Fields:
//   - component: scheduler, sim, store, mdfetch
//   - req_id: catalog index of the request (-1 for the control channel)
//   - code: provider error code
//   - error_class: informational, permanent, transient, unclassified
//   - action: ignore, retry, skip, skip_unexpected
//   - symbol: instrument symbol
//   - inflight: requests in flight
//   - cursor: next catalog index to submit
