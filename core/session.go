package core

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	// StatusActive is the initial state; work may run against the session.
	StatusActive Status = "ACTIVE"
	// StatusPaused marks a session suspended by an external pause request.
	StatusPaused Status = "PAUSED"
	// StatusCompleted is terminal: the request was resolved.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is terminal: a stage failed, the request timed out or the pause expired.
	StatusFailed Status = "FAILED"
)

// transitions lists every allowed edge of the session state machine.
var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused: {StatusActive, StatusFailed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Checkpoint is the serializable snapshot of an in-progress loop. It carries
// everything required to continue the loop in a fresh process.
type Checkpoint struct {
	Token     string    `json:"token,omitempty"`
	Mode      Mode      `json:"mode,omitempty"`
	Request   string    `json:"request,omitempty"`
	MaxTurns  int       `json:"max_turns,omitempty"`
	Iteration int       `json:"iteration"`
	Partial   string    `json:"partial,omitempty"`
	PausedAt  time.Time `json:"paused_at,omitempty"`
	// Generation identifies the run that owns the loop. Every Resume starts
	// a new generation; saves from an older run are rejected.
	Generation uint64 `json:"generation,omitempty"`
}

// InteractionRef points at a MemoryBank entry produced for the session.
type InteractionRef struct {
	Seq       uint64 `json:"seq"`
	AgentName string `json:"agent_name"`
}

// Session is the conversational container tracked by a SessionStore.
//
// Contract:
//   - Only the owning store mutates a Session; callers receive clones
//   - Status changes follow the state machine (see CanTransitionTo)
//   - PAUSED -> ACTIVE is only reachable through Resume, which validates the
//     resume token and the pause timeout
//   - Checkpoint is present only while PAUSED or while a loop is running
type Session struct {
	ID           string           `json:"id"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Checkpoint   *Checkpoint      `json:"checkpoint,omitempty"`
	Interactions []InteractionRef `json:"interactions"`
}

// NewSession creates an ACTIVE session with the given id.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, Status: StatusActive, CreatedAt: now, UpdatedAt: now, Interactions: []InteractionRef{}}
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	if s.Checkpoint != nil {
		cp := *s.Checkpoint
		clone.Checkpoint = &cp
	}
	clone.Interactions = make([]InteractionRef, len(s.Interactions))
	copy(clone.Interactions, s.Interactions)
	return &clone
}

// SetStatus applies a terminal transition (COMPLETED or FAILED). Pausing and
// resuming have dedicated methods because they carry a checkpoint token.
func (s *Session) SetStatus(next Status, now time.Time) error {
	if next == StatusPaused || next == StatusActive {
		return fmt.Errorf("%w: %s -> %s requires pause/resume", ErrInvalidTransition, s.Status, next)
	}
	return s.transition(next, now)
}

// Pause moves an ACTIVE session to PAUSED, stamping the checkpoint with token.
// An existing mid-loop checkpoint keeps its iteration and partial result.
func (s *Session) Pause(token string, now time.Time) error {
	if err := s.transition(StatusPaused, now); err != nil {
		return err
	}
	if s.Checkpoint == nil {
		s.Checkpoint = &Checkpoint{}
	}
	s.Checkpoint.Token = token
	s.Checkpoint.PausedAt = now
	return nil
}

// Resume validates token and elapsed pause duration, then reactivates the
// session. When the pause outlived timeout the session moves to FAILED and
// ErrSessionExpired is returned; the caller must persist that state.
// A zero timeout disables expiry.
func (s *Session) Resume(token string, now time.Time, timeout time.Duration) error {
	if s.Status != StatusPaused {
		return fmt.Errorf("%w: cannot resume %s session", ErrInvalidTransition, s.Status)
	}
	if s.Checkpoint == nil || s.Checkpoint.Token != token {
		return ErrInvalidToken
	}
	if elapsed := now.Sub(s.Checkpoint.PausedAt); timeout > 0 && elapsed > timeout {
		if err := s.transition(StatusFailed, now); err != nil {
			return err
		}
		return fmt.Errorf("%w: paused for %s (timeout %s)", ErrSessionExpired, elapsed.Round(time.Millisecond), timeout)
	}
	if err := s.transition(StatusActive, now); err != nil {
		return err
	}
	s.Checkpoint.Token = ""
	s.Checkpoint.PausedAt = time.Time{}
	if s.Checkpoint.Mode == "" {
		s.Checkpoint = nil
		return nil
	}
	s.Checkpoint.Generation++
	return nil
}

// SaveCheckpoint records loop progress. While PAUSED the resume token and
// pause time are preserved so a late turn cannot invalidate a pause. A loop
// checkpoint of another generation is never overwritten.
func (s *Session) SaveCheckpoint(cp Checkpoint, now time.Time) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionTerminal, s.Status)
	}
	if s.Checkpoint != nil && s.Checkpoint.Mode != "" && s.Checkpoint.Generation != cp.Generation {
		return fmt.Errorf("%w: generation %d, stored %d", ErrStaleCheckpoint, cp.Generation, s.Checkpoint.Generation)
	}
	if s.Checkpoint != nil {
		cp.Token = s.Checkpoint.Token
		cp.PausedAt = s.Checkpoint.PausedAt
	}
	s.Checkpoint = &cp
	s.UpdatedAt = now
	return nil
}

// AppendInteraction adds a reference to a MemoryBank entry.
func (s *Session) AppendInteraction(ref InteractionRef, now time.Time) {
	s.Interactions = append(s.Interactions, ref)
	s.UpdatedAt = now
}

func (s *Session) transition(next Status, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	if next.IsTerminal() {
		s.Checkpoint = nil
	}
	return nil
}

// TransitionObserver is notified after every committed status change.
type TransitionObserver func(sessionID string, from, to Status)

// SessionStore persists sessions and serializes mutations per session id.
// Different sessions proceed independently.
type SessionStore interface {
	// Create allocates a new ACTIVE session with a globally unique id.
	Create(ctx context.Context) (*Session, error)
	// Get returns a clone of the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// UpdateStatus applies a COMPLETED or FAILED transition.
	UpdateStatus(ctx context.Context, id string, status Status) error
	// Pause moves the session to PAUSED and returns the resume token.
	Pause(ctx context.Context, id string) (string, error)
	// Resume validates token and pause timeout and returns the reactivated session.
	Resume(ctx context.Context, id, token string) (*Session, error)
	// SaveCheckpoint records loop progress for the session.
	SaveCheckpoint(ctx context.Context, id string, cp Checkpoint) error
	// AppendInteraction links a MemoryBank entry to the session.
	AppendInteraction(ctx context.Context, id string, ref InteractionRef) error
}
