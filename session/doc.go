// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the Session struct with its state machine) live
// in the core package. Keeping only implementations here prevents the
// orchestrator from depending on concrete storage.
//
// InMemoryStore serves tests and single process deployments. The redis
// sub-package provides a durable backend whose checkpoints survive process
// restarts. Only the wiring layer decides which implementation to use.
package session
