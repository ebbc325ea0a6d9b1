package core

import (
	"context"
	"time"
)

// ToolCallStatus is the outcome of a tool invocation.
type ToolCallStatus string

const (
	// ToolCallOK means the first attempt succeeded.
	ToolCallOK ToolCallStatus = "OK"
	// ToolCallRetriedOK means a later attempt succeeded after transient failures.
	ToolCallRetriedOK ToolCallStatus = "RETRIED_OK"
	// ToolCallFailed means the invocation did not produce a result.
	ToolCallFailed ToolCallStatus = "FAILED"
)

// ToolCallRecord is produced for every tool invocation, successful or not.
type ToolCallRecord struct {
	SessionID    string         `json:"session_id,omitempty"`
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"args,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	Status       ToolCallStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
}

// ToolInvoker is the narrow view of a tool registry handed to agents and
// the orchestrator. A zero timeout selects the registry default.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (ToolCallRecord, error)
	Has(name string) bool
}

type sessionIDKey struct{}

// WithSessionID returns a context that attributes tool calls and events to sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id set by WithSessionID, if any.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
