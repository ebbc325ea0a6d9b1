package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/memory"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

func assistant(content string, calls ...model.ToolCall) model.Response {
	return model.Response{
		Message:      model.Message{Role: model.RoleAssistant, Content: content, ToolCalls: calls},
		FinishReason: "stop",
	}
}

func TestModelAgent_ToolRoundTrip(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.Script(
		assistant("", model.ToolCall{
			ID:       "call-1",
			Type:     "function",
			Function: model.ToolCallFunction{Name: tool.SearchKnowledgeBase, Arguments: `{"query":"login"}`},
		}),
		assistant(`Here you go: {"output": "Clear your cookies", "severity": 0.4, "resolved": true}`),
	)

	reg := builtinTools(t)
	a := NewModelAgent("Technical Support", core.KindSupport, llm, func(o *ModelAgentOptions) {
		o.Tools = reg.Tools()
	})

	out, err := a.Invoke(context.Background(), core.AgentInput{SessionID: "s1", Text: "cannot login", Tools: reg})
	require.NoError(t, err)
	assert.Equal(t, "Clear your cookies", out.Output)
	assert.Equal(t, 0.4, out.Signals.Severity)
	assert.True(t, out.Signals.Resolved)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 3)
	assert.Contains(t, reqs[0].Instructions, `"severity"`)

	toolMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, model.RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"found":true`)
}

func TestModelAgent_ToolErrorReportedToModel(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.Script(
		assistant("", model.ToolCall{ID: "c", Function: model.ToolCallFunction{Name: "missing", Arguments: "{}"}}),
		assistant(`{"output": "sorry"}`),
	)

	a := NewModelAgent("Technical Support", core.KindSupport, llm)

	out, err := a.Invoke(context.Background(), core.AgentInput{Text: "x", Tools: builtinTools(t)})
	require.NoError(t, err)
	assert.Equal(t, "sorry", out.Output)

	reqs := llm.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Content, "error")
}

func TestModelAgent_PlainTextFallsBackToKeywords(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.AddResponse("refund please", "Your refund is on its way.")

	a := NewModelAgent("Issue Router", core.KindRouting, llm)

	out, err := a.Invoke(context.Background(), core.AgentInput{Text: "refund please"})
	require.NoError(t, err)
	assert.Equal(t, "Your refund is on its way.", out.Output)
	assert.Equal(t, CategoryBilling, out.Signals.Category)
}

func TestModelAgent_EscalationVerdict(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.Script(assistant(`{"output": "escalating", "verdict": "page on-call"}`))

	out, err := NewModelAgent("Escalation Handler", core.KindEscalation, llm).
		Invoke(context.Background(), core.AgentInput{Text: "outage"})
	require.NoError(t, err)
	assert.Equal(t, "page on-call", out.Signals.Verdict)
}

func TestModelAgent_TooManyToolRounds(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	call := model.ToolCall{ID: "c", Function: model.ToolCallFunction{Name: tool.SearchKnowledgeBase, Arguments: `{"query":"x"}`}}
	llm.Script(assistant("", call), assistant("", call), assistant("", call))

	a := NewModelAgent("Technical Support", core.KindSupport, llm, func(o *ModelAgentOptions) { o.MaxToolRounds = 2 })

	_, err := a.Invoke(context.Background(), core.AgentInput{Text: "x", Tools: builtinTools(t)})
	assert.ErrorIs(t, err, ErrTooManyToolRounds)
}

func TestModelAgent_HistoryOldestFirst(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	a := NewModelAgent("Technical Support", core.KindSupport, llm)

	ctxEntries := []core.MemoryEntry{
		{Seq: 3, Record: &core.InteractionRecord{AgentName: "B", Output: "newest"}},
		{Seq: 2, Summary: &core.CompactedSummary{MergedCount: 2, SummaryText: "older stuff"}},
	}

	_, err := a.Invoke(context.Background(), core.AgentInput{Text: "hello", Context: ctxEntries})
	require.NoError(t, err)

	msgs := llm.Requests()[0].Messages
	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "Summary of earlier interactions"))
	assert.Equal(t, "[B] newest", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
}

func TestModelAgent_ModelFailure(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	boom := errors.New("rate limited")
	llm.FailWith(boom)

	_, err := NewModelAgent("x", core.KindSupport, llm).Invoke(context.Background(), core.AgentInput{Text: "hi"})
	assert.ErrorIs(t, err, boom)
}

func TestModelSummarizer(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.Script(assistant("  Customer could not log in; resolved.  "))

	s := NewModelSummarizer(llm)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	text, err := s.Summarize(context.Background(), []core.InteractionRecord{
		{AgentName: "A", Input: "login", Output: "cookies", Timestamp: at},
	})
	require.NoError(t, err)
	assert.Equal(t, "Customer could not log in; resolved.", text)
	assert.Contains(t, llm.Requests()[0].Messages[0].Content, "cookies")
}

func TestModelSummarizer_Fallback(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.FailWith(errors.New("down"))

	s := NewModelSummarizer(llm, func(o *SummarizerOptions) { o.Fallback = memory.DigestSummarizer{} })
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	text, err := s.Summarize(context.Background(), []core.InteractionRecord{
		{AgentName: "A", Output: "one", Timestamp: at},
		{AgentName: "A", Output: "two", Timestamp: at.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "2 interactions"))

	_, err = NewModelSummarizer(llm).Summarize(context.Background(), []core.InteractionRecord{{Output: "x"}})
	assert.Error(t, err)
}
