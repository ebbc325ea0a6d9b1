package agent

import (
	"fmt"

	"github.com/hupe1980/supportmesh/core"
)

// BaseAgent bundles the identity shared by all agents. Embed it in concrete
// agent implementations and supply an Invoke method to satisfy core.Agent.
type BaseAgent struct {
	name        string
	kind        core.AgentKind
	description string
}

// NewBaseAgent constructs a BaseAgent with generated description (customizable via SetDescription).
func NewBaseAgent(name string, kind core.AgentKind) BaseAgent {
	return BaseAgent{
		name:        name,
		kind:        kind,
		description: fmt.Sprintf("%s agent %s", kind, name),
	}
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Kind returns how the agent's signals are interpreted.
func (b *BaseAgent) Kind() core.AgentKind { return b.kind }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Find returns the first agent with the given name, or nil.
func Find(name string, agents ...core.Agent) core.Agent {
	for _, a := range agents {
		if a != nil && a.Name() == name {
			return a
		}
	}
	return nil
}
