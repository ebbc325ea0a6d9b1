package observability

import (
	"sort"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// LogSink writes every event to a structured logger. Failed events are
// logged at warn level, everything else at debug.
type LogSink struct {
	Logger logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

// Consume implements Sink.
func (s *LogSink) Consume(ev core.Event) {
	args := []any{"session_id", ev.SessionID, "kind", ev.Kind, "seq", ev.Seq}

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, ev.Payload[k])
	}

	if _, failed := ev.Payload[core.PayloadError]; failed {
		s.Logger.Warn("event", args...)
		return
	}
	s.Logger.Debug("event", args...)
}
