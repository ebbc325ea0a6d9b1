package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/tool"
)

func builtinTools(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(reg, 0))
	return reg
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"I'm unable to login to my account", CategoryAccount},
		{"I have an issue with billing on my account", CategoryBilling},
		{"Critical: complete service outage", CategoryTechnical},
		{"The app shows an error on start", CategoryTechnical},
		{"What are your opening hours?", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, Severity("Critical: complete service outage"))
	assert.Equal(t, SeverityCritical, Severity("service is DOWN"))
	assert.Equal(t, SeverityMedium, Severity("I'm unable to login to my account"))
	assert.Equal(t, SeverityLow, Severity("How do I change my avatar?"))
}

func TestRoutingAgent(t *testing.T) {
	a := NewRoutingAgent()
	assert.Equal(t, RouterName, a.Name())
	assert.Equal(t, core.KindRouting, a.Kind())

	out, err := a.Invoke(context.Background(), core.AgentInput{Text: "refund my last invoice"})
	require.NoError(t, err)
	assert.Equal(t, CategoryBilling, out.Signals.Category)
	assert.Contains(t, out.Output, "billing queue")
}

func TestSupportAgent_ResolvesFromKnowledgeBase(t *testing.T) {
	a := NewSupportAgent()

	out, err := a.Invoke(context.Background(), core.AgentInput{
		Text:  "I'm unable to login to my account",
		Tools: builtinTools(t),
	})
	require.NoError(t, err)
	assert.True(t, out.Signals.Resolved)
	assert.Equal(t, SeverityMedium, out.Signals.Severity)
	assert.Contains(t, out.Output, "Found response")
}

func TestSupportAgent_CriticalStaysOpen(t *testing.T) {
	a := NewSupportAgent()

	out, err := a.Invoke(context.Background(), core.AgentInput{
		Text:  "Critical: complete service outage",
		Tools: builtinTools(t),
	})
	require.NoError(t, err)
	assert.False(t, out.Signals.Resolved)
	assert.Equal(t, SeverityCritical, out.Signals.Severity)
}

func TestSupportAgent_WithoutTools(t *testing.T) {
	out, err := NewSupportAgent().Invoke(context.Background(), core.AgentInput{Text: "login broken"})
	require.NoError(t, err)
	assert.False(t, out.Signals.Resolved)
	assert.Contains(t, out.Output, "No matching article")
}

func TestSupportAgent_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSupportAgent().Invoke(ctx, core.AgentInput{Text: "login"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEscalationAgent(t *testing.T) {
	a := NewEscalationAgent(0.7)

	out, err := a.Invoke(context.Background(), core.AgentInput{Text: "Critical: complete service outage"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Signals.Verdict)

	out, err = a.Invoke(context.Background(), core.AgentInput{Text: "How do I change my avatar?"})
	require.NoError(t, err)
	assert.Empty(t, out.Signals.Verdict)

	// upstream support severity dominates the text reading
	out, err = a.Invoke(context.Background(), core.AgentInput{
		Text:     "please help",
		Upstream: []core.StageOutput{{Agent: SupportName, Kind: core.KindSupport, Signals: core.Signals{Severity: 0.8}}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Signals.Verdict)
	assert.Equal(t, 0.8, out.Signals.Severity)
}

func TestFind(t *testing.T) {
	r, s := NewRoutingAgent(), NewSupportAgent()
	assert.Equal(t, s, Find(SupportName, r, s))
	assert.Nil(t, Find("nobody", r, s))
}
