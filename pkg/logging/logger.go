// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

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

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// Components used across the module.
const (
	ComponentClient = "xrpc-client"
	ComponentWorker = "worker"
	ComponentServer = "server"
	ComponentRemote = "worker-remote"
	ComponentCLI    = "cli"
)

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Components
// created with NewLogger afterwards inherit its level, output and format.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.toZerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel validates a level name from flags or configuration. The empty
// name selects info; "warning" is accepted for warn.
func ParseLevel(s string) (LogLevel, error) {
	name := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := zerologLevels[name]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return name, nil
}

// toZerolog maps l to a zerolog level. Unknown levels log at info.
func (l LogLevel) toZerolog() zerolog.Level {
	parsed, err := ParseLevel(string(l))
	if err != nil {
		return zerolog.InfoLevel
	}
	return zerologLevels[parsed]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Conditional requests and ETags
//   - Worker coalescing and abandoned waiters
//
// Info: Normal operation events
//   - Worker and server startup/shutdown
//   - Batch fetch completion
//
// Warn: Warning conditions that don't prevent operation
//   - Rate limit throttling
//   - Retry attempts
//   - Cache and Redis errors (request proceeds without them)
//   - XRPC error responses
//
// Error: Error conditions requiring attention
//   - Transport failures
//   - Critical rate limit blocks
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (see the Component constants)
//   - operation: XRPC operation NSID
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - port: worker port name
//   - remaining: requests left in the rate limit window
//   - etag: ETag value for conditional requests
//   - ttl: Cache entry TTL
