package agent

import (
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the agent input, environment, etc.
type Provider interface {
	Instruction(in core.AgentInput) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(in core.AgentInput) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(in core.AgentInput) (string, error) { return f(in) }

// Instruction represents either a static instruction string or a dynamic provider.
// Static text may use Go template markers rendered against the agent input
// ({{.text}}, {{.turn}}, {{.session_id}}).
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(in core.AgentInput) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(in core.AgentInput) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(in)
	}
	return util.RenderTemplate(i.text, map[string]any{
		"text":       in.Text,
		"turn":       in.Turn,
		"session_id": in.SessionID,
	})
}
