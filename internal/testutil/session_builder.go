package testutil

import (
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Status(core.StatusPaused).Checkpoint(cp).Build()
type SessionBuilder struct {
	id           string
	now          time.Time
	status       core.Status
	checkpoint   *core.Checkpoint
	interactions []core.InteractionRef
}

// NewSessionBuilder creates a new builder for an ACTIVE session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, now: time.Now(), status: core.StatusActive}
}

// At sets the creation time (chainable).
func (b *SessionBuilder) At(t time.Time) *SessionBuilder { b.now = t; return b }

// Status forces the session status without running the state machine (chainable).
func (b *SessionBuilder) Status(s core.Status) *SessionBuilder { b.status = s; return b }

// Checkpoint attaches a checkpoint (chainable).
func (b *SessionBuilder) Checkpoint(cp core.Checkpoint) *SessionBuilder {
	b.checkpoint = &cp
	return b
}

// Interaction appends an interaction reference (chainable).
func (b *SessionBuilder) Interaction(seq uint64, agent string) *SessionBuilder {
	b.interactions = append(b.interactions, core.InteractionRef{Seq: seq, AgentName: agent})
	return b
}

// Build returns the assembled *core.Session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id, b.now)
	s.Status = b.status
	s.Checkpoint = b.checkpoint
	s.Interactions = append(s.Interactions, b.interactions...)
	return s
}
