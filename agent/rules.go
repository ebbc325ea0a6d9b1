package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/tool"
)

// Default agent names.
const (
	RouterName     = "Issue Router"
	SupportName    = "Technical Support"
	EscalationName = "Escalation Handler"
)

// Request categories assigned by the RoutingAgent.
const (
	CategoryAccount   = "account"
	CategoryBilling   = "billing"
	CategoryTechnical = "technical"
	CategoryGeneral   = "general"
)

// Severity levels derived from request wording.
const (
	SeverityLow      = 0.2
	SeverityMedium   = 0.5
	SeverityCritical = 0.9
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryBilling, []string{"billing", "invoice", "refund", "charge", "payment"}},
	{CategoryAccount, []string{"login", "log in", "sign in", "password", "account", "locked"}},
	{CategoryTechnical, []string{"error", "crash", "bug", "outage", "down", "broken", "unavailable"}},
}

var (
	criticalKeywords = []string{"critical", "outage", "down", "urgent", "unavailable"}
	mediumKeywords   = []string{"error", "unable", "cannot", "can't", "fail", "broken"}
)

// Categorize maps request text to a support category by keyword. The first
// matching category wins; unmatched text is general.
func Categorize(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categoryKeywords {
		if containsAny(lower, c.keywords) {
			return c.category
		}
	}
	return CategoryGeneral
}

// Severity scores request text in [0, 1].
func Severity(text string) float64 {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, criticalKeywords):
		return SeverityCritical
	case containsAny(lower, mediumKeywords):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// RoutingAgent classifies requests into a category.
type RoutingAgent struct {
	BaseAgent
}

var _ core.Agent = (*RoutingAgent)(nil)

// NewRoutingAgent returns the keyword based Issue Router.
func NewRoutingAgent() *RoutingAgent {
	a := &RoutingAgent{BaseAgent: NewBaseAgent(RouterName, core.KindRouting)}
	a.SetDescription("Classifies customer requests into account, billing, technical or general queues")
	return a
}

// Invoke implements core.Agent.
func (a *RoutingAgent) Invoke(ctx context.Context, in core.AgentInput) (core.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentOutput{}, err
	}

	category := Categorize(in.Text)

	return core.AgentOutput{
		Output:  fmt.Sprintf("[%s] Routed to %s queue", a.Name(), category),
		Signals: core.Signals{Category: category},
	}, nil
}

// SupportAgent proposes a resolution from the knowledge base.
type SupportAgent struct {
	BaseAgent
}

var _ core.Agent = (*SupportAgent)(nil)

// NewSupportAgent returns the knowledge base backed Technical Support agent.
func NewSupportAgent() *SupportAgent {
	a := &SupportAgent{BaseAgent: NewBaseAgent(SupportName, core.KindSupport)}
	a.SetDescription("Answers customer requests from the knowledge base")
	return a
}

// Invoke implements core.Agent. A knowledge base hit resolves the request
// unless the wording is critical; tool failures surface as errors.
func (a *SupportAgent) Invoke(ctx context.Context, in core.AgentInput) (core.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentOutput{}, err
	}

	severity := Severity(in.Text)

	answer := ""
	if in.Tools != nil && in.Tools.Has(tool.SearchKnowledgeBase) {
		rec, err := in.Tools.Invoke(ctx, tool.SearchKnowledgeBase, map[string]any{"query": in.Text}, 0)
		if err != nil {
			return core.AgentOutput{}, fmt.Errorf("knowledge base lookup: %w", err)
		}
		answer = firstResult(rec.Result)
	}

	if answer == "" {
		return core.AgentOutput{
			Output:  fmt.Sprintf("[%s] No matching article found; gathering more details.", a.Name()),
			Signals: core.Signals{Severity: severity},
		}, nil
	}

	return core.AgentOutput{
		Output:  fmt.Sprintf("[%s] Found response: %s", a.Name(), answer),
		Signals: core.Signals{Severity: severity, Resolved: severity < SeverityCritical},
	}, nil
}

func firstResult(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	switch results := m["results"].(type) {
	case []string:
		if len(results) > 0 {
			return results[0]
		}
	case []any:
		if len(results) > 0 {
			return fmt.Sprint(results[0])
		}
	}
	return ""
}

// EscalationAgent decides whether a request needs human follow-up.
type EscalationAgent struct {
	BaseAgent
	threshold float64
}

var _ core.Agent = (*EscalationAgent)(nil)

// NewEscalationAgent returns the Escalation Handler. Requests whose severity
// reaches threshold receive a verdict.
func NewEscalationAgent(threshold float64) *EscalationAgent {
	a := &EscalationAgent{BaseAgent: NewBaseAgent(EscalationName, core.KindEscalation), threshold: threshold}
	a.SetDescription("Escalates severe requests to human support")
	return a
}

// Invoke implements core.Agent. The highest upstream support severity wins
// over the agent's own reading of the text.
func (a *EscalationAgent) Invoke(ctx context.Context, in core.AgentInput) (core.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentOutput{}, err
	}

	severity := Severity(in.Text)
	for _, up := range in.Upstream {
		if up.Kind == core.KindSupport && up.Signals.Severity > severity {
			severity = up.Signals.Severity
		}
	}

	if severity < a.threshold {
		return core.AgentOutput{
			Output:  fmt.Sprintf("[%s] No escalation required (severity %.1f)", a.Name(), severity),
			Signals: core.Signals{Severity: severity},
		}, nil
	}

	verdict := fmt.Sprintf("Escalated to tier-2 support (severity %.1f): %s", severity, strings.TrimSpace(in.Text))

	return core.AgentOutput{
		Output:  fmt.Sprintf("[%s] %s", a.Name(), verdict),
		Signals: core.Signals{Severity: severity, Verdict: verdict},
	}, nil
}
