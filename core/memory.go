package core

import (
	"context"
	"time"
)

// InteractionRecord captures one completed agent stage. It is immutable once
// appended to a MemoryBank.
type InteractionRecord struct {
	SessionID string        `json:"session_id"`
	AgentName string        `json:"agent_name"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
}

// TimeRange is the closed interval covered by a compacted summary.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CompactedSummary replaces a contiguous run of older raw entries.
// MergedCount always equals the number of raw entries it replaced.
type CompactedSummary struct {
	MergedCount int       `json:"merged_count"`
	TimeRange   TimeRange `json:"time_range"`
	SummaryText string    `json:"summary_text"`
	FirstSeq    uint64    `json:"first_seq"`
	LastSeq     uint64    `json:"last_seq"`
}

// MemoryEntry is either a raw InteractionRecord or a CompactedSummary.
// Seq orders entries of one session; a summary takes the sequence number of
// the newest entry it replaced.
type MemoryEntry struct {
	Seq     uint64             `json:"seq"`
	Record  *InteractionRecord `json:"record,omitempty"`
	Summary *CompactedSummary  `json:"summary,omitempty"`
}

// Clone returns a copy that shares no memory with e.
func (e MemoryEntry) Clone() MemoryEntry {
	if e.Record != nil {
		rec := *e.Record
		e.Record = &rec
	}
	if e.Summary != nil {
		sum := *e.Summary
		e.Summary = &sum
	}
	return e
}

// IsSummary reports whether the entry is a compacted summary.
func (e MemoryEntry) IsSummary() bool { return e.Summary != nil }

// Count returns how many interactions the entry represents.
func (e MemoryEntry) Count() int {
	if e.Summary != nil {
		return e.Summary.MergedCount
	}
	return 1
}

// Text returns the record output or the summary text.
func (e MemoryEntry) Text() string {
	if e.Summary != nil {
		return e.Summary.SummaryText
	}
	if e.Record != nil {
		return e.Record.Output
	}
	return ""
}

// MemoryStats summarizes the entries of one session.
type MemoryStats struct {
	RawCount          int    `json:"raw_count"`
	SummaryCount      int    `json:"summary_count"`
	SummarizedCount   int    `json:"summarized_count"`
	TotalInteractions int    `json:"total_interactions"`
	LastSeq           uint64 `json:"last_seq"`
}

// Summarizer condenses a run of interaction records into text.
type Summarizer interface {
	Summarize(ctx context.Context, records []InteractionRecord) (string, error)
}

// SummarizerFunc adapts an ordinary function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, records []InteractionRecord) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, records []InteractionRecord) (string, error) {
	return f(ctx, records)
}

// MemoryBank is the append-only interaction log with compaction.
//
// Implementations must:
//   - Serialize appends per session so sequence order equals completion order
//   - Return newest-first slices from RetrieveContext, bounded by limit
//   - Keep compaction idempotent when the session is already within bounds
type MemoryBank interface {
	Append(ctx context.Context, sessionID string, rec InteractionRecord) (uint64, error)
	RetrieveContext(ctx context.Context, sessionID string, limit int) ([]MemoryEntry, error)
	Compact(ctx context.Context, sessionID string) (bool, error)
	Stats(ctx context.Context, sessionID string) (MemoryStats, error)
}
