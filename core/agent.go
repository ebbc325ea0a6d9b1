package core

import "context"

// AgentKind selects how an agent's Signals are interpreted.
type AgentKind string

const (
	// KindRouting agents classify the request; Signals.Category is set.
	KindRouting AgentKind = "routing"
	// KindSupport agents propose a resolution; Signals.Severity and Signals.Resolved are set.
	KindSupport AgentKind = "support"
	// KindEscalation agents decide on escalation; Signals.Verdict is set when escalating.
	KindEscalation AgentKind = "escalation"
)

// Signals carries the structured side of an agent decision. Each kind fills
// its own fields and leaves the rest zero.
type Signals struct {
	Category string  `json:"category,omitempty"`
	Severity float64 `json:"severity,omitempty"`
	Resolved bool    `json:"resolved,omitempty"`
	Verdict  string  `json:"verdict,omitempty"`
}

// StageOutput is the result of an earlier stage forwarded downstream.
type StageOutput struct {
	Agent   string    `json:"agent"`
	Kind    AgentKind `json:"kind"`
	Output  string    `json:"output"`
	Signals Signals   `json:"signals"`
}

// AgentInput is everything an agent sees for one invocation.
type AgentInput struct {
	SessionID string
	Text      string
	// Turn is the zero-based loop iteration; zero outside LOOP mode.
	Turn int
	// Upstream holds the outputs of earlier stages (sequential chain or previous loop turn).
	Upstream []StageOutput
	// Context is the newest-first memory of the session.
	Context []MemoryEntry
	// Tools lets the agent call registered capabilities; may be nil.
	Tools ToolInvoker
}

// AgentOutput is the decision produced by an agent.
type AgentOutput struct {
	Output  string  `json:"output"`
	Signals Signals `json:"signals"`
}

// Agent is the reasoning capability consumed by the orchestrator. Routing,
// support and escalation variants share this single invocation contract.
//
// Implementations must respect context cancellation and be safe for
// concurrent use.
type Agent interface {
	Name() string
	Kind() AgentKind
	Invoke(ctx context.Context, in AgentInput) (AgentOutput, error)
}
