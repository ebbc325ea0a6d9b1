package memory

import (
	"context"
	"fmt"

	"github.com/hupe1980/supportmesh/core"
)

// RawCount returns the number of raw (non-summary) entries.
func RawCount(entries []core.MemoryEntry) int {
	n := 0
	for _, e := range entries {
		if !e.IsSummary() {
			n++
		}
	}
	return n
}

// SelectForCompaction returns the oldest raw entries that must be merged so
// that only keepRecent raw entries remain. It returns nil while the raw count
// is within window. entries must be ordered by ascending Seq.
func SelectForCompaction(entries []core.MemoryEntry, window, keepRecent int) []core.MemoryEntry {
	raw := RawCount(entries)
	if raw <= window {
		return nil
	}

	merge := raw - keepRecent
	selected := make([]core.MemoryEntry, 0, merge)
	for _, e := range entries {
		if len(selected) == merge {
			break
		}
		if !e.IsSummary() {
			selected = append(selected, e)
		}
	}
	return selected
}

// Summarize builds the summary entry replacing selected. The summary takes
// the sequence number of the newest entry it replaces.
func Summarize(ctx context.Context, s core.Summarizer, selected []core.MemoryEntry) (core.MemoryEntry, error) {
	if len(selected) == 0 {
		return core.MemoryEntry{}, fmt.Errorf("%w: nothing to summarize", core.ErrValidation)
	}

	records := make([]core.InteractionRecord, 0, len(selected))
	for _, e := range selected {
		records = append(records, *e.Record)
	}

	text, err := s.Summarize(ctx, records)
	if err != nil {
		return core.MemoryEntry{}, fmt.Errorf("summarize: %w", err)
	}

	first, last := selected[0], selected[len(selected)-1]

	return core.MemoryEntry{
		Seq: last.Seq,
		Summary: &core.CompactedSummary{
			MergedCount: len(selected),
			TimeRange:   core.TimeRange{From: first.Record.Timestamp, To: last.Record.Timestamp},
			SummaryText: text,
			FirstSeq:    first.Seq,
			LastSeq:     last.Seq,
		},
	}, nil
}

// Replace returns entries with every selected entry removed and summary
// inserted at its sequence position.
func Replace(entries []core.MemoryEntry, selected []core.MemoryEntry, summary core.MemoryEntry) []core.MemoryEntry {
	drop := make(map[uint64]struct{}, len(selected))
	for _, e := range selected {
		drop[e.Seq] = struct{}{}
	}

	out := make([]core.MemoryEntry, 0, len(entries)-len(selected)+1)
	inserted := false
	for _, e := range entries {
		if _, ok := drop[e.Seq]; ok && !e.IsSummary() {
			if e.Seq == summary.Seq && !inserted {
				out = append(out, summary)
				inserted = true
			}
			continue
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, summary)
	}
	return out
}

// Newest returns copies of up to limit entries newest-first. A non-positive
// limit returns everything.
func Newest(entries []core.MemoryEntry, limit int) []core.MemoryEntry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]core.MemoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i].Clone())
	}
	return out
}

// StatsOf computes statistics for an ascending entry slice.
func StatsOf(entries []core.MemoryEntry) core.MemoryStats {
	var st core.MemoryStats
	for _, e := range entries {
		if e.IsSummary() {
			st.SummaryCount++
			st.SummarizedCount += e.Summary.MergedCount
		} else {
			st.RawCount++
		}
		if e.Seq > st.LastSeq {
			st.LastSeq = e.Seq
		}
	}
	st.TotalInteractions = st.RawCount + st.SummarizedCount
	return st
}
