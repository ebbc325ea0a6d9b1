package core

import "errors"

var (
	// ErrSessionNotFound is returned when a session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a paused session outlived the pause timeout.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionTerminal is returned when work is requested on a COMPLETED or FAILED session.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrInvalidTransition is returned for status changes outside the state machine.
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrInvalidToken is returned when a resume token does not match the checkpoint.
	ErrInvalidToken = errors.New("invalid resume token")
	// ErrStaleCheckpoint is returned when a superseded loop run tries to save
	// its progress.
	ErrStaleCheckpoint = errors.New("checkpoint superseded")

	// ErrValidation marks malformed requests or tool arguments. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrToolInvocation marks a tool failure surfaced to the caller (permanent
	// or transient with retries exhausted).
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrToolNotFound is returned when no tool is registered under a name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolTimeout is returned when a tool invocation exceeds its timeout.
	ErrToolTimeout = errors.New("tool timeout")

	// ErrOrchestrationTimeout is returned when a request exceeds its deadline.
	ErrOrchestrationTimeout = errors.New("orchestration timeout")
)
