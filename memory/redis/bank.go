// Package redis provides a durable core.MemoryBank backed by Redis.
//
// Layout per session:
//
//	<prefix>:memory:<id>      hash of seq -> MemoryEntry JSON
//	<prefix>:memory:<id>:seq  sequence counter
//	<prefix>:memory:<id>:raw  number of raw (uncompacted) entries
//
// Appends are a single Lua script (INCR + HSET) so sequence numbers stay
// monotonic across processes. The raw counter decides when auto compaction
// is due without loading the log. Compaction runs in a WATCH transaction and
// retries when a concurrent append modifies the log.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/util"
	"github.com/hupe1980/supportmesh/memory"
)

var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], seq, ARGV[1])
local raw = redis.call('INCR', KEYS[3])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
  redis.call('PEXPIRE', KEYS[3], ARGV[2])
end
return {seq, raw}
`)

// Options configures the Redis memory bank.
type Options struct {
	memory.Options
	// Prefix namespaces all keys (default "supportmesh").
	Prefix string
	// TTL expires idle session logs; zero keeps them forever.
	TTL time.Duration
	// MaxTxRetries bounds optimistic compaction retries.
	MaxTxRetries int
}

// Bank implements core.MemoryBank on Redis.
type Bank struct {
	rdb   redis.UniversalClient
	locks *util.KeyedMutex
	opts  Options
}

// New creates a Bank using rdb.
func New(rdb redis.UniversalClient, optFns ...func(o *Options)) *Bank {
	opts := Options{
		Options:      memory.DefaultOptions(),
		Prefix:       "supportmesh",
		MaxTxRetries: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Options = memory.ApplyOptions(func(o *memory.Options) { *o = opts.Options })

	return &Bank{rdb: rdb, locks: util.NewKeyedMutex(), opts: opts}
}

func (b *Bank) logKey(sessionID string) string {
	return fmt.Sprintf("%s:memory:%s", b.opts.Prefix, sessionID)
}

func (b *Bank) seqKey(sessionID string) string {
	return b.logKey(sessionID) + ":seq"
}

func (b *Bank) rawKey(sessionID string) string {
	return b.logKey(sessionID) + ":raw"
}

// Append stores rec and returns its sequence number.
func (b *Bank) Append(ctx context.Context, sessionID string, rec core.InteractionRecord) (uint64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id is empty", core.ErrValidation)
	}

	rec.SessionID = sessionID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = b.opts.Now()
	}

	data, err := json.Marshal(core.MemoryEntry{Record: &rec})
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	unlock := b.locks.Lock(sessionID)
	defer unlock()

	res, err := appendScript.Run(ctx, b.rdb,
		[]string{b.logKey(sessionID), b.seqKey(sessionID), b.rawKey(sessionID)},
		string(data), b.opts.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("append memory %s: %w", sessionID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("append memory %s: unexpected script result %v", sessionID, res)
	}
	seq, raw := uint64(res[0]), int(res[1])

	b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryAppend, map[string]any{
		"seq":   seq,
		"agent": rec.AgentName,
	})

	if b.opts.AutoCompact && raw > b.opts.Window {
		if _, err := b.compactLocked(ctx, sessionID); err != nil {
			b.opts.Logger.Warn("memory.compact.failed", "session_id", sessionID, "error", err)
		}
	}

	return seq, nil
}

// RetrieveContext returns up to limit entries newest-first.
func (b *Bank) RetrieveContext(ctx context.Context, sessionID string, limit int) ([]core.MemoryEntry, error) {
	entries, err := b.load(ctx, b.rdb, sessionID)
	if err != nil {
		return nil, err
	}
	return memory.Newest(entries, limit), nil
}

// Compact merges the oldest raw entries when the raw count exceeds Window.
func (b *Bank) Compact(ctx context.Context, sessionID string) (bool, error) {
	unlock := b.locks.Lock(sessionID)
	defer unlock()

	return b.compactLocked(ctx, sessionID)
}

func (b *Bank) compactLocked(ctx context.Context, sessionID string) (bool, error) {
	key := b.logKey(sessionID)
	start := time.Now()

	for attempt := 0; attempt < b.opts.MaxTxRetries; attempt++ {
		var merged int

		err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
			entries, err := b.load(ctx, tx, sessionID)
			if err != nil {
				return err
			}

			selected := memory.SelectForCompaction(entries, b.opts.Window, b.opts.KeepRecent)
			if len(selected) == 0 {
				return nil
			}

			summary, err := memory.Summarize(ctx, b.opts.Summarizer, selected)
			if err != nil {
				return err
			}

			data, err := json.Marshal(summary)
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}

			fields := make([]string, 0, len(selected))
			for _, e := range selected {
				fields = append(fields, strconv.FormatUint(e.Seq, 10))
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, key, fields...)
				pipe.HSet(ctx, key, strconv.FormatUint(summary.Seq, 10), data)
				pipe.Set(ctx, b.rawKey(sessionID), memory.RawCount(entries)-len(selected), redis.KeepTTL)
				return nil
			})
			if err == nil {
				merged = len(selected)
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryCompact, map[string]any{
				core.PayloadError: err.Error(),
			})
			return false, err
		}
		if merged == 0 {
			return false, nil
		}

		b.opts.Recorder.RecordEvent(sessionID, core.EventMemoryCompact, map[string]any{
			"merged":            merged,
			core.PayloadLatency: time.Since(start),
		})
		b.opts.Logger.Debug("memory.compact", "session_id", sessionID, "merged", merged, "backend", "redis")
		return true, nil
	}

	return false, fmt.Errorf("compact memory %s: too many concurrent writers", sessionID)
}

// Stats returns entry statistics; LastSeq reflects the sequence counter.
func (b *Bank) Stats(ctx context.Context, sessionID string) (core.MemoryStats, error) {
	entries, err := b.load(ctx, b.rdb, sessionID)
	if err != nil {
		return core.MemoryStats{}, err
	}
	st := memory.StatsOf(entries)

	last, err := b.rdb.Get(ctx, b.seqKey(sessionID)).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.MemoryStats{}, fmt.Errorf("load sequence %s: %w", sessionID, err)
	}
	if last > st.LastSeq {
		st.LastSeq = last
	}
	return st, nil
}

// Close closes the underlying client.
func (b *Bank) Close() error {
	return b.rdb.Close()
}

func (b *Bank) load(ctx context.Context, c redis.Cmdable, sessionID string) ([]core.MemoryEntry, error) {
	raw, err := c.HGetAll(ctx, b.logKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", sessionID, err)
	}

	entries := make([]core.MemoryEntry, 0, len(raw))
	for field, value := range raw {
		seq, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("memory %s: bad seq field %q", sessionID, field)
		}
		var e core.MemoryEntry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return nil, fmt.Errorf("decode memory %s/%d: %w", sessionID, seq, err)
		}
		e.Seq = seq
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	return entries, nil
}
