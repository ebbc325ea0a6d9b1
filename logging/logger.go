// Package logging provides a tiny abstraction over structured loggers so
// downstream code can depend on a minimal interface (Logger) while allowing
// users to plug slog, zerolog or any other backend.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from
// the concrete backend.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface for SupportMesh. Arguments are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// Config configures construction of a Logger through New.
type Config struct {
	// Backend selects the implementation: "slog" (default) or "zerolog".
	Backend string
	Level   LogLevel
	// Format is "json" (default), "text" for slog or "console" for zerolog.
	Format    string
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info level slog configuration.
func DefaultConfig() Config {
	return Config{Backend: "slog", Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// New builds a Logger for the configured backend.
func New(cfg Config) (Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "slog":
		opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
		var handler slog.Handler
		if cfg.Format == "text" {
			handler = slog.NewTextHandler(cfg.Output, opts)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}
		l := slog.New(handler)
		if cfg.Component != "" {
			l = l.With("component", cfg.Component)
		}
		return NewSlogAdapter(l), nil
	case "zerolog":
		return NewZerologLogger(cfg), nil
	case "none", "noop":
		return NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that prefixes every entry with the given key/value
// pairs. Backends without native support get a wrapping logger.
func With(l Logger, args ...any) Logger {
	switch lg := l.(type) {
	case nil:
		return NoOpLogger{}
	case NoOpLogger:
		return lg
	case *SlogAdapter:
		return &SlogAdapter{Logger: lg.Logger.With(args...)}
	case *ZerologAdapter:
		return lg.With(args...)
	default:
		return &withLogger{next: l, args: args}
	}
}

type withLogger struct {
	next Logger
	args []any
}

func (w *withLogger) merge(args []any) []any {
	merged := make([]any, 0, len(w.args)+len(args))
	merged = append(merged, w.args...)
	return append(merged, args...)
}

func (w *withLogger) Debug(msg string, args ...any) { w.next.Debug(msg, w.merge(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.next.Info(msg, w.merge(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.next.Warn(msg, w.merge(args)...) }
func (w *withLogger) Error(msg string, args ...any) { w.next.Error(msg, w.merge(args)...) }

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
