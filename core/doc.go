// Package core provides the foundational domain types, interfaces and error
// taxonomy shared by every SupportMesh package. It defines the core
// abstractions for:
//
//   - Sessions (lifecycle state machine plus a serializable loop checkpoint)
//   - Interaction records and memory entries (raw or compacted summaries)
//   - Agents (routing, support and escalation capabilities behind one contract)
//   - Tool call records and observability events
//   - Requests and responses exchanged with the orchestrator
//
// The package intentionally keeps implementation concerns (persistence,
// orchestration, concrete agents and tools) out of scope, exposing small
// interfaces so durable backends can be swapped without contract changes.
// Every type in this package marshals to plain JSON.
package core
