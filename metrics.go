package supportmesh

import (
	"context"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// MemoryDigest condenses the memory of one session.
type MemoryDigest struct {
	InteractionCount int              `json:"interaction_count"`
	FirstInteraction time.Time        `json:"first_interaction,omitempty"`
	LastInteraction  time.Time        `json:"last_interaction,omitempty"`
	RecentSummary    string           `json:"recent_summary,omitempty"`
	Stats            core.MemoryStats `json:"stats"`
}

// SessionMetrics reports the state of one session.
type SessionMetrics struct {
	SessionID   string       `json:"session_id"`
	Status      core.Status  `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Iteration   int          `json:"iteration"`
	Events      int          `json:"events"`
	ToolCalls   int          `json:"tool_calls"`
	Escalations int          `json:"escalations"`
	Memory      MemoryDigest `json:"memory"`
}

// SessionMetrics returns the current state and memory digest of a session.
func (m *SupportMesh) SessionMetrics(ctx context.Context, sessionID string) (SessionMetrics, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionMetrics{}, err
	}

	out := SessionMetrics{
		SessionID: sess.ID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	if sess.Checkpoint != nil {
		out.Iteration = sess.Checkpoint.Iteration
	}

	trace := m.hub.QueryTrace(sessionID)
	out.Events = len(trace)
	for _, ev := range trace {
		switch ev.Kind {
		case core.EventToolCall:
			out.ToolCalls++
		case core.EventEscalation:
			out.Escalations++
		}
	}

	digest, err := m.digest(ctx, sessionID)
	if err != nil {
		return out, err
	}
	out.Memory = digest

	return out, nil
}

func (m *SupportMesh) digest(ctx context.Context, sessionID string) (MemoryDigest, error) {
	stats, err := m.memory.Stats(ctx, sessionID)
	if err != nil {
		return MemoryDigest{}, err
	}

	// newest first
	entries, err := m.memory.RetrieveContext(ctx, sessionID, 0)
	if err != nil {
		return MemoryDigest{}, err
	}

	d := MemoryDigest{InteractionCount: stats.TotalInteractions, Stats: stats}
	if len(entries) == 0 {
		return d, nil
	}

	d.LastInteraction = entryTime(entries[0], false)
	d.FirstInteraction = entryTime(entries[len(entries)-1], true)

	for _, e := range entries {
		if e.IsSummary() {
			d.RecentSummary = e.Summary.SummaryText
			break
		}
	}
	if d.RecentSummary == "" {
		d.RecentSummary = entries[0].Text()
	}

	return d, nil
}

func entryTime(e core.MemoryEntry, first bool) time.Time {
	switch {
	case e.Summary != nil && first:
		return e.Summary.TimeRange.From
	case e.Summary != nil:
		return e.Summary.TimeRange.To
	case e.Record != nil:
		return e.Record.Timestamp
	default:
		return time.Time{}
	}
}
