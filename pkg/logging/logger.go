// Package logging configures the zerolog loggers used by every component.
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

// Component names used as the "component" field.
const (
	ComponentTransport = "catalog-transport"
	ComponentFetch     = "fetchcache"
	ComponentTree      = "resulttree"
	ComponentProgress  = "progress"
	ComponentLoop      = "loop"
	ComponentCLI       = "cli"
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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidateLevel reports an error for names parseLevel would silently map to
// info.
func ValidateLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Artifact cache hits and dedup no-ops
//   - Watcher registrations and late results
//   - Tree state transitions, page population
//   - Response cache hits, conditional requests
//
// Info: Normal operation events
//   - Search started, run finished
//   - 304 Not Modified responses
//
// Warn: Conditions that end an operation without ending the program
//   - Timeouts and failed pages
//   - Failed artifact fetches and cache write errors
//   - Retry attempts, rate limit throttling
//
// Error: Error conditions requiring attention
//   - Failed multi-resource runs
//   - Requests that exhausted their retries
//   - Configuration errors
//
// Context Fields:
//   - key: artifact cache key (itemType__itemID)
//   - operation_id: watcher operation id
//   - url: request URL
//   - status: HTTP status code
//   - error_class: transport error class (client, server, rate_limit, network)
//   - failure_kind: transport, timeout, cancelled, malformed_response
//   - page, resource: pagination position
