package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

type sessionLog struct {
	mu      sync.Mutex
	entries []core.MemoryEntry // ascending Seq
	lastSeq uint64
}

// InMemoryBank is a process-local MemoryBank. Appends for one session are
// serialized by a per-session lock; different sessions never contend beyond
// the map lookup.
type InMemoryBank struct {
	mu   sync.RWMutex
	logs map[string]*sessionLog
	opts Options
}

// NewInMemoryBank creates an empty bank.
func NewInMemoryBank(optFns ...func(o *Options)) *InMemoryBank {
	return &InMemoryBank{
		logs: make(map[string]*sessionLog),
		opts: ApplyOptions(optFns...),
	}
}

func (b *InMemoryBank) log(sessionID string, create bool) *sessionLog {
	b.mu.RLock()
	l, ok := b.logs[sessionID]
	b.mu.RUnlock()
	if ok || !create {
		return l
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok = b.logs[sessionID]; !ok {
		l = &sessionLog{}
		b.logs[sessionID] = l
	}
	return l
}

// Append stores rec and returns its sequence number. With AutoCompact a
// compaction failure is logged and does not fail the append.
func (b *InMemoryBank) Append(ctx context.Context, sessionID string, rec core.InteractionRecord) (uint64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id is empty", core.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rec.SessionID = sessionID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = b.opts.Now()
	}

	l := b.log(sessionID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeq++
	seq := l.lastSeq
	l.entries = append(l.entries, core.MemoryEntry{Seq: seq, Record: &rec})

	b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryAppend, map[string]any{
		"seq":   seq,
		"agent": rec.AgentName,
	})

	if b.opts.AutoCompact && RawCount(l.entries) > b.opts.Window {
		if _, err := b.compactLocked(ctx, sessionID, l); err != nil {
			b.opts.Logger.Warn("memory.compact.failed", "session_id", sessionID, "error", err)
		}
	}

	return seq, nil
}

// RetrieveContext returns up to limit entries newest-first. It never mutates.
func (b *InMemoryBank) RetrieveContext(ctx context.Context, sessionID string, limit int) ([]core.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := b.log(sessionID, false)
	if l == nil {
		return []core.MemoryEntry{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return Newest(l.entries, limit), nil
}

// Compact merges the oldest raw entries when the raw count exceeds Window.
// It reports whether anything changed.
func (b *InMemoryBank) Compact(ctx context.Context, sessionID string) (bool, error) {
	l := b.log(sessionID, false)
	if l == nil {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return b.compactLocked(ctx, sessionID, l)
}

func (b *InMemoryBank) compactLocked(ctx context.Context, sessionID string, l *sessionLog) (bool, error) {
	selected := SelectForCompaction(l.entries, b.opts.Window, b.opts.KeepRecent)
	if len(selected) == 0 {
		return false, nil
	}

	start := time.Now()

	summary, err := Summarize(ctx, b.opts.Summarizer, selected)
	if err != nil {
		b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryCompact, map[string]any{
			core.PayloadError: err.Error(),
		})
		return false, err
	}

	l.entries = Replace(l.entries, selected, summary)

	b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryCompact, map[string]any{
		"merged":            len(selected),
		core.PayloadLatency: time.Since(start),
	})
	b.opts.Logger.Debug("memory.compact", "session_id", sessionID, "merged", len(selected))

	return true, nil
}

// Stats returns entry statistics for the session.
func (b *InMemoryBank) Stats(ctx context.Context, sessionID string) (core.MemoryStats, error) {
	if err := ctx.Err(); err != nil {
		return core.MemoryStats{}, err
	}

	l := b.log(sessionID, false)
	if l == nil {
		return core.MemoryStats{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return StatsOf(l.entries), nil
}

// Close drops all stored entries.
func (b *InMemoryBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = make(map[string]*sessionLog)
	return nil
}
