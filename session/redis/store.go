// Package redis provides a durable core.SessionStore backed by Redis. Sessions
// are stored as JSON documents and every mutation runs inside a WATCH/MULTI
// transaction, so several processes may share one keyspace and a paused loop
// can be resumed by a different process than the one that started it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/util"
	"github.com/hupe1980/supportmesh/session"
)

// Options configures the Redis session store.
type Options struct {
	session.Options
	// Prefix namespaces all keys (default "supportmesh").
	Prefix string
	// TTL expires sessions that have not been touched; zero keeps them forever.
	TTL time.Duration
	// MaxTxRetries bounds optimistic transaction retries on concurrent writers.
	MaxTxRetries int
}

// Store implements core.SessionStore on top of a Redis client.
type Store struct {
	rdb   redis.UniversalClient
	locks *util.KeyedMutex
	opts  Options
}

// New creates a Store using rdb. The caller owns rdb unless Close is called.
func New(rdb redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{
		Options:      session.DefaultOptions(),
		Prefix:       "supportmesh",
		MaxTxRetries: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Options = session.ApplyOptions(func(o *session.Options) { *o = opts.Options })

	return &Store{rdb: rdb, locks: util.NewKeyedMutex(), opts: opts}
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.opts.Prefix, id)
}

// Create allocates a new ACTIVE session.
func (s *Store) Create(ctx context.Context) (*core.Session, error) {
	sess := core.NewSession(core.NewID(), s.opts.Now())

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.key(sess.ID), data, s.opts.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("create session %s: id collision", sess.ID)
	}

	s.opts.Logger.Debug("session.create", "session_id", sess.ID, "backend", "redis")

	return sess, nil
}

// Get loads the session document.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	return s.load(ctx, s.rdb, id)
}

// UpdateStatus applies a terminal transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, status core.Status) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.SetStatus(status, now)
	})
}

// Pause moves the session to PAUSED and returns the resume token.
func (s *Store) Pause(ctx context.Context, id string) (string, error) {
	token := core.NewID()
	if err := s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.Pause(token, now)
	}); err != nil {
		return "", err
	}
	return token, nil
}

// Resume reactivates a PAUSED session; an expired pause is persisted as FAILED.
func (s *Store) Resume(ctx context.Context, id, token string) (*core.Session, error) {
	var (
		resumed   *core.Session
		resumeErr error
	)

	err := s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		resumeErr = sess.Resume(token, now, s.opts.PauseTimeout)
		if resumeErr != nil && sess.Status != core.StatusFailed {
			return resumeErr
		}
		resumed = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resumeErr != nil {
		return nil, resumeErr
	}

	return resumed, nil
}

// SaveCheckpoint records loop progress.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, cp core.Checkpoint) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		return sess.SaveCheckpoint(cp, now)
	})
}

// AppendInteraction links a memory entry to the session.
func (s *Store) AppendInteraction(ctx context.Context, id string, ref core.InteractionRef) error {
	return s.mutate(ctx, id, func(sess *core.Session, now time.Time) error {
		sess.AppendInteraction(ref, now)
		return nil
	})
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*core.Session, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var sess core.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	return &sess, nil
}

// mutate serializes local writers with the keyed mutex and remote writers with
// an optimistic WATCH transaction, retrying when another client won the race.
func (s *Store) mutate(ctx context.Context, id string, fn func(sess *core.Session, now time.Time) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	key := s.key(id)

	for attempt := 0; attempt < s.opts.MaxTxRetries; attempt++ {
		var from, to core.Status

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			sess, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			from = sess.Status

			if err := fn(sess, s.opts.Now()); err != nil {
				return err
			}
			to = sess.Status

			data, err := json.Marshal(sess)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.opts.TTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			s.opts.Logger.Debug("session.tx.retry", "session_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return err
		}

		if from != to {
			s.opts.Logger.Info("session.transition", "session_id", id, "from", from, "to", to)
			if s.opts.OnTransition != nil {
				s.opts.OnTransition(id, from, to)
			}
		}
		return nil
	}

	return fmt.Errorf("update session %s: too many concurrent writers", id)
}
