package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// Sink receives every recorded event after it has been stored. Sinks run
// synchronously on the recording goroutine and must be fast.
type Sink interface {
	Consume(ev core.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev core.Event)

// Consume implements Sink.
func (f SinkFunc) Consume(ev core.Event) { f(ev) }

// Options configures a Hub.
type Options struct {
	// MaxEventsPerSession bounds retained trace events; older events are
	// dropped first. Zero means unbounded.
	MaxEventsPerSession int
	// MaxSessions bounds the number of traced sessions; the traces of the
	// oldest sessions are evicted first. Zero means unbounded.
	MaxSessions int
	// MaxLatencySamples bounds samples kept per category for percentiles.
	MaxLatencySamples int
	Sinks             []Sink
	Logger            logging.Logger
	Now               func() time.Time
}

type sessionTrace struct {
	mu      sync.Mutex
	seq     uint64
	events  []core.Event
	dropped int
}

// Hub is the in-process ObservabilityHub. It implements core.Recorder.
type Hub struct {
	mu      sync.RWMutex
	traces  map[string]*sessionTrace
	order   []string // session ids by first event
	evicted int

	metricsMu sync.Mutex
	counts    map[string]int
	errors    map[string]int
	latency   map[string]*series
	total     int
	dropped   int
	failures  int

	opts Options
}

var _ core.Recorder = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{
		MaxEventsPerSession: 1000,
		MaxSessions:         10000,
		MaxLatencySamples:   2048,
		Logger:              logging.NoOpLogger{},
		Now:                 time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		traces:  make(map[string]*sessionTrace),
		counts:  make(map[string]int),
		errors:  make(map[string]int),
		latency: make(map[string]*series),
		opts:    opts,
	}
}

// AddSink registers an additional sink.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.Sinks = append(h.opts.Sinks, s)
}

// RecordEvent stores the event, updates metrics and notifies sinks. It never
// panics and never returns an error.
func (h *Hub) RecordEvent(sessionID, kind string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			h.metricsMu.Lock()
			h.failures++
			h.metricsMu.Unlock()
			h.opts.Logger.Warn("observability.record.panic", "kind", kind, "panic", fmt.Sprint(r))
		}
	}()

	ev := core.Event{
		ID:        core.NewID(),
		SessionID: sessionID,
		Kind:      kind,
		Payload:   clonePayload(payload),
		Timestamp: h.opts.Now(),
	}

	h.store(&ev)
	h.aggregate(ev)

	h.mu.RLock()
	sinks := h.opts.Sinks
	h.mu.RUnlock()

	for _, s := range sinks {
		h.notify(s, ev)
	}
}

func (h *Hub) store(ev *core.Event) {
	h.mu.RLock()
	t, ok := h.traces[ev.SessionID]
	h.mu.RUnlock()

	if !ok {
		h.mu.Lock()
		if t, ok = h.traces[ev.SessionID]; !ok {
			t = &sessionTrace{}
			h.traces[ev.SessionID] = t
			h.order = append(h.order, ev.SessionID)
			h.evictLocked()
		}
		h.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	ev.Seq = t.seq
	t.events = append(t.events, *ev)

	if limit := h.opts.MaxEventsPerSession; limit > 0 && len(t.events) > limit {
		drop := len(t.events) - limit
		t.events = append(t.events[:0:0], t.events[drop:]...)
		t.dropped += drop

		h.metricsMu.Lock()
		h.dropped += drop
		h.metricsMu.Unlock()
	}
}

// evictLocked drops the oldest traces beyond MaxSessions. h.mu must be held.
func (h *Hub) evictLocked() {
	limit := h.opts.MaxSessions
	if limit <= 0 {
		return
	}
	for len(h.traces) > limit && len(h.order) > 0 {
		id := h.order[0]
		h.order = h.order[1:]
		delete(h.traces, id)
		h.evicted++
	}
}

func (h *Hub) aggregate(ev core.Event) {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()

	h.total++
	h.counts[ev.Kind]++

	if _, failed := ev.Payload[core.PayloadError]; failed {
		h.errors[ev.Kind]++
	}

	d, ok := ev.Payload[core.PayloadLatency].(time.Duration)
	if !ok {
		return
	}

	for _, cat := range categories(ev) {
		s, ok := h.latency[cat]
		if !ok {
			s = newSeries(h.opts.MaxLatencySamples)
			h.latency[cat] = s
		}
		s.add(d)
	}
}

func (h *Hub) notify(s Sink, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.metricsMu.Lock()
			h.failures++
			h.metricsMu.Unlock()
			h.opts.Logger.Warn("observability.sink.panic", "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	s.Consume(ev)
}

// QueryTrace returns the retained events of a session ordered by Seq.
func (h *Hub) QueryTrace(sessionID string) []core.Event {
	h.mu.RLock()
	t, ok := h.traces[sessionID]
	h.mu.RUnlock()
	if !ok {
		return []core.Event{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]core.Event, len(t.events))
	copy(out, t.events)
	return out
}

// Snapshot is a point-in-time view of hub metrics.
type Snapshot struct {
	TotalEvents   int                     `json:"total_events"`
	DroppedEvents int                     `json:"dropped_events"`
	SinkFailures  int                     `json:"sink_failures"`
	Sessions      int                     `json:"sessions"`
	Evicted       int                     `json:"evicted_sessions"`
	Counts        map[string]int          `json:"counts"`
	Errors        map[string]int          `json:"errors"`
	Latency       map[string]LatencyStats `json:"latency"`
}

// ErrorRate returns errors/count for kind, or zero when nothing was recorded.
func (s Snapshot) ErrorRate(kind string) float64 {
	if s.Counts[kind] == 0 {
		return 0
	}
	return float64(s.Errors[kind]) / float64(s.Counts[kind])
}

// MetricsSnapshot returns counts per kind, errors per kind and latency
// distributions per category.
func (h *Hub) MetricsSnapshot() Snapshot {
	h.mu.RLock()
	sessions, evicted := len(h.traces), h.evicted
	h.mu.RUnlock()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()

	snap := Snapshot{
		TotalEvents:   h.total,
		DroppedEvents: h.dropped,
		SinkFailures:  h.failures,
		Sessions:      sessions,
		Evicted:       evicted,
		Counts:        make(map[string]int, len(h.counts)),
		Errors:        make(map[string]int, len(h.errors)),
		Latency:       make(map[string]LatencyStats, len(h.latency)),
	}
	for k, v := range h.counts {
		snap.Counts[k] = v
	}
	for k, v := range h.errors {
		snap.Errors[k] = v
	}
	for k, s := range h.latency {
		snap.Latency[k] = s.stats()
	}

	return snap
}

// categories returns the latency buckets for ev: its kind plus, when the
// payload names an agent or tool, "<kind>/<name>".
func categories(ev core.Event) []string {
	cats := []string{ev.Kind}
	for _, key := range []string{"agent", "tool"} {
		if name, ok := ev.Payload[key].(string); ok && name != "" {
			cats = append(cats, ev.Kind+"/"+name)
		}
	}
	return cats
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
