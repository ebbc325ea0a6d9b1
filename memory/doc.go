// Package memory contains core.MemoryBank implementations and the compaction
// logic they share. The bank interface and entry types reside in the core
// package; select an implementation (InMemoryBank, or the durable bank in the
// redis sub-package) at wiring time.
//
// Compaction keeps the per-session log bounded: once the number of raw
// entries exceeds Window, the oldest raw entries beyond KeepRecent are merged
// into a single CompactedSummary produced by a core.Summarizer.
package memory
