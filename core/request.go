package core

import (
	"fmt"
	"strings"
)

// Mode is the execution strategy used by the orchestrator.
type Mode string

const (
	// ModeParallel runs routing and support concurrently, escalation on demand.
	ModeParallel Mode = "PARALLEL"
	// ModeSequential chains routing -> support -> escalation.
	ModeSequential Mode = "SEQUENTIAL"
	// ModeLoop repeats support until resolved, the turn cap, or a pause.
	ModeLoop Mode = "LOOP"
)

// ParseMode converts user input (case-insensitive) into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeParallel, ModeSequential, ModeLoop:
		return m, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
	}
}

// Request is a customer request submitted to the orchestrator.
type Request struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	// MaxTurns overrides the configured LOOP turn cap when positive.
	MaxTurns int `json:"max_turns,omitempty"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: request text is empty", ErrValidation)
	}
	if r.MaxTurns < 0 {
		return fmt.Errorf("%w: max turns must be >= 0", ErrValidation)
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	return nil
}

// Response is returned for every processed request.
type Response struct {
	SessionID      string `json:"session_id"`
	Status         Status `json:"status"`
	ResolutionText string `json:"resolution_text"`
	Category       string `json:"category,omitempty"`
	EscalationFlag bool   `json:"escalation_flag"`
	Partial        bool   `json:"partial"`
	TicketID       string `json:"ticket_id,omitempty"`
	// Iteration is the next LOOP turn index (only meaningful for LOOP mode).
	Iteration int `json:"iteration,omitempty"`
	// ResumeToken is set when a LOOP returned because the session was paused.
	ResumeToken string `json:"resume_token,omitempty"`
}
