// Package observability implements the event hub every SupportMesh component
// reports to. The hub is a pure sink: recording never fails the caller and
// never panics. Recorded events are kept per session (bounded) for trace
// queries, aggregated into counters and latency distributions, and fanned out
// to pluggable sinks such as structured logs or OpenTelemetry.
package observability
