package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of zerolog. Key/value pairs are
// attached as fields; non-string keys are formatted with %v.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps an existing zerolog.Logger.
func NewZerologAdapter(l zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: l}
}

// NewZerologLogger builds a timestamped zerolog logger from cfg. Format
// "console" selects the human readable console writer.
func NewZerologLogger(cfg Config) *ZerologAdapter {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var l zerolog.Logger
	if cfg.Format == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(out).With().Timestamp().Logger()
	}

	l = l.Level(zerologLevel(cfg.Level))
	if cfg.AddSource {
		l = l.With().Caller().Logger()
	}
	if cfg.Component != "" {
		l = l.With().Str("component", cfg.Component).Logger()
	}

	return &ZerologAdapter{logger: l}
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child adapter carrying the given key/value pairs.
func (z *ZerologAdapter) With(args ...any) *ZerologAdapter {
	ctx := z.logger.With()
	for i := 0; i < len(args); i += 2 {
		ctx = ctx.Interface(fieldKey(args[i]), fieldValue(args, i+1))
	}
	return &ZerologAdapter{logger: ctx.Logger()}
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { z.emit(z.logger.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { z.emit(z.logger.Warn(), msg, args) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }

func (z *ZerologAdapter) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil { // level disabled
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fieldKey(args[i])
		switch v := fieldValue(args, i+1).(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func fieldKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

func fieldValue(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
