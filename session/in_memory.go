package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/util"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configures session store behavior shared by all backends.
type Options struct {
	// PauseTimeout bounds how long a session may stay PAUSED before Resume
	// fails it. Zero disables expiry.
	PauseTimeout time.Duration
	// OnTransition is invoked after each committed status change.
	OnTransition core.TransitionObserver
	Logger       logging.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultOptions returns the baseline store options.
func DefaultOptions() Options {
	return Options{
		PauseTimeout: 30 * time.Minute,
		Logger:       logging.NoOpLogger{},
		Now:          time.Now,
	}
}

// ApplyOptions resolves functional options on top of DefaultOptions.
func ApplyOptions(optFns ...func(o *Options)) Options {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests or single process deployments. Each returned session is
// cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	locks    *util.KeyedMutex
	opts     Options
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		locks:    util.NewKeyedMutex(),
		opts:     ApplyOptions(optFns...),
	}
}

// Create allocates a new ACTIVE session with a fresh uuid.
func (s *InMemoryStore) Create(ctx context.Context) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess := core.NewSession(core.NewID(), s.opts.Now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.opts.Logger.Debug("session.create", "session_id", sess.ID)

	return sess.Clone(), nil
}

// Get returns a clone of the session.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}

	return sess.Clone(), nil
}

// UpdateStatus applies a terminal transition.
func (s *InMemoryStore) UpdateStatus(ctx context.Context, id string, status core.Status) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.SetStatus(status, now)
	})
}

// Pause moves an ACTIVE session to PAUSED and returns the resume token.
func (s *InMemoryStore) Pause(ctx context.Context, id string) (string, error) {
	token := core.NewID()
	err := s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.Pause(token, now)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Resume reactivates a PAUSED session. An expired pause is committed as FAILED
// before ErrSessionExpired is returned.
func (s *InMemoryStore) Resume(ctx context.Context, id, token string) (*core.Session, error) {
	var (
		resumed   *core.Session
		resumeErr error
	)

	err := s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		resumeErr = sess.Resume(token, now, s.opts.PauseTimeout)
		if resumeErr != nil && sess.Status != core.StatusFailed {
			return resumeErr // nothing changed
		}
		resumed = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resumeErr != nil {
		s.opts.Logger.Warn("session.resume.expired", "session_id", id, "error", resumeErr)
		return nil, resumeErr
	}

	return resumed, nil
}

// SaveCheckpoint records loop progress.
func (s *InMemoryStore) SaveCheckpoint(ctx context.Context, id string, cp core.Checkpoint) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.SaveCheckpoint(cp, now)
	})
}

// AppendInteraction links a memory entry to the session.
func (s *InMemoryStore) AppendInteraction(ctx context.Context, id string, ref core.InteractionRef) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		sess.AppendInteraction(ref, now)
		return nil
	})
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close releases all sessions.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*core.Session)
	return nil
}

// mutate runs fn on a working copy of the session under the per-session lock
// and commits the copy only when fn succeeds.
func (s *InMemoryStore) mutate(ctx context.Context, id string, fn func(sess *core.Session, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}

	working := current.Clone()
	if err := fn(working, s.opts.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[id] = working
	s.mu.Unlock()

	notifyTransition(s.opts, id, current.Status, working.Status)

	return nil
}

func notifyTransition(opts Options, id string, from, to core.Status) {
	if from == to {
		return
	}
	opts.Logger.Info("session.transition", "session_id", id, "from", from, "to", to)
	if opts.OnTransition != nil {
		opts.OnTransition(id, from, to)
	}
}
