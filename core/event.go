package core

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded by SupportMesh components.
const (
	EventRequestStart      = "request.start"
	EventRequestEnd        = "request.end"
	EventRequestError      = "request.error"
	EventAgentStart        = "agent.start"
	EventAgentEnd          = "agent.end"
	EventAgentError        = "agent.error"
	EventToolCall          = "tool.call"
	EventToolRetry         = "tool.retry"
	EventMemoryAppend      = "memory.append"
	EventMemoryCompact     = "memory.compact"
	EventSessionTransition = "session.transition"
	EventLoopTurn          = "loop.turn"
	EventLoopPaused        = "loop.paused"
	EventEscalation        = "escalation"
)

// Payload keys with a meaning shared across components.
const (
	// PayloadLatency holds a time.Duration and feeds the latency distribution.
	PayloadLatency = "latency"
	// PayloadError holds an error message and marks the event as a failure.
	PayloadError = "error"
)

// Event is a write-once observability record. Seq orders events of one
// session; Timestamp is informational.
type Event struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recorder is the write side of the observability hub. Implementations must
// never block the caller for long and must never panic.
type Recorder interface {
	RecordEvent(sessionID, kind string, payload map[string]any)
}

// NopRecorder discards all events.
type NopRecorder struct{}

// RecordEvent implements Recorder.
func (NopRecorder) RecordEvent(string, string, map[string]any) {}

// NewID generates a new unique identifier for sessions, events and tokens.
func NewID() string { return uuid.NewString() }
