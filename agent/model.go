package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/tool"
)

// ErrTooManyToolRounds is returned when the model keeps requesting tools past
// ModelAgentOptions.MaxToolRounds.
var ErrTooManyToolRounds = errors.New("too many tool rounds")

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction Instruction
	// Tools are advertised to the model; calls are executed through the
	// AgentInput's ToolInvoker, so only tools it knows are offered.
	Tools              []tool.Tool
	EnableStreaming    bool
	ToolTimeout        time.Duration
	MaxToolRounds      int
	MaxHistoryMessages int
	Logger             logging.Logger
}

// ModelAgent backs one agent kind with a language model. The model is asked
// for a JSON decision ({"output": ..., plus the kind's signal fields}); plain
// text answers fall back to keyword signals.
type ModelAgent struct {
	BaseAgent
	llm  model.Model
	opts ModelAgentOptions
}

var _ core.Agent = (*ModelAgent)(nil)

// NewModelAgent creates a new model-based agent with sensible defaults.
func NewModelAgent(name string, kind core.AgentKind, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, the %s agent of a customer support team.", name, kind)),
		ToolTimeout:        0,
		MaxToolRounds:      3,
		MaxHistoryMessages: 10,
		Logger:             logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &ModelAgent{
		BaseAgent: NewBaseAgent(name, kind),
		llm:       llm,
		opts:      opts,
	}
}

// Invoke implements core.Agent.
func (a *ModelAgent) Invoke(ctx context.Context, in core.AgentInput) (core.AgentOutput, error) {
	instructions, err := a.opts.Instruction.Resolve(in)
	if err != nil {
		return core.AgentOutput{}, fmt.Errorf("resolve instruction: %w", err)
	}

	req := model.Request{
		Instructions: instructions + "\n\n" + signalGuidance(a.Kind()),
		Messages:     a.buildMessages(in),
		Tools:        a.toolDefinitions(in.Tools),
		Stream:       a.opts.EnableStreaming,
	}

	for round := 0; ; round++ {
		resp, err := model.Complete(ctx, a.llm, req)
		if err != nil {
			return core.AgentOutput{}, fmt.Errorf("model %s: %w", a.llm.Info().Name, err)
		}

		if len(resp.Message.ToolCalls) == 0 || in.Tools == nil {
			return decide(a.Kind(), resp.Message.Content, in.Text), nil
		}

		if round >= a.opts.MaxToolRounds {
			return core.AgentOutput{}, fmt.Errorf("%w: %d", ErrTooManyToolRounds, a.opts.MaxToolRounds)
		}

		req.Messages = append(req.Messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			req.Messages = append(req.Messages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Content:    a.executeTool(ctx, in.Tools, call),
			})
		}
	}
}

// executeTool runs one model-requested call. Failures are reported back to
// the model as a JSON error object instead of aborting the agent.
func (a *ModelAgent) executeTool(ctx context.Context, tools core.ToolInvoker, call model.ToolCall) string {
	args := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return errorJSON(fmt.Errorf("invalid arguments: %w", err))
		}
	}

	rec, err := tools.Invoke(ctx, call.Function.Name, args, a.opts.ToolTimeout)
	if err != nil {
		a.opts.Logger.Warn("agent.tool.error", "agent", a.Name(), "tool", call.Function.Name, "error", err)
		return errorJSON(err)
	}

	b, err := json.Marshal(rec.Result)
	if err != nil {
		return errorJSON(err)
	}

	return string(b)
}

func errorJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// buildMessages renders memory (oldest first), upstream stages and the request.
func (a *ModelAgent) buildMessages(in core.AgentInput) []model.Message {
	history := in.Context
	if a.opts.MaxHistoryMessages > 0 && len(history) > a.opts.MaxHistoryMessages {
		history = history[:a.opts.MaxHistoryMessages]
	}

	messages := make([]model.Message, 0, len(history)+len(in.Upstream)+1)

	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		switch {
		case e.Summary != nil:
			messages = append(messages, model.Message{
				Role:    model.RoleSystem,
				Content: "Summary of earlier interactions: " + e.Summary.SummaryText,
			})
		case e.Record != nil:
			messages = append(messages, model.Message{
				Role:    model.RoleAssistant,
				Content: fmt.Sprintf("[%s] %s", e.Record.AgentName, e.Record.Output),
			})
		}
	}

	for _, up := range in.Upstream {
		messages = append(messages, model.Message{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("Previous stage %s (%s): %s", up.Agent, up.Kind, up.Output),
		})
	}

	text := in.Text
	if in.Turn > 0 {
		text = fmt.Sprintf("%s\n\n(follow-up turn %d)", text, in.Turn)
	}

	return append(messages, model.Message{Role: model.RoleUser, Content: text})
}

func (a *ModelAgent) toolDefinitions(invoker core.ToolInvoker) []model.ToolDefinition {
	if invoker == nil {
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(a.opts.Tools))
	for _, t := range a.opts.Tools {
		if !invoker.Has(t.Name()) {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	return defs
}

func signalGuidance(kind core.AgentKind) string {
	switch kind {
	case core.KindRouting:
		return `Answer with a JSON object {"output": string, "category": "account"|"billing"|"technical"|"general"}.`
	case core.KindSupport:
		return `Answer with a JSON object {"output": string, "severity": number between 0 and 1, "resolved": boolean}.`
	case core.KindEscalation:
		return `Answer with a JSON object {"output": string, "verdict": string}. Leave verdict empty when no escalation is needed.`
	default:
		return `Answer with a JSON object {"output": string}.`
	}
}

type decision struct {
	Output   string   `json:"output"`
	Category string   `json:"category"`
	Severity *float64 `json:"severity"`
	Resolved bool     `json:"resolved"`
	Verdict  string   `json:"verdict"`
}

// decide turns a model answer into an AgentOutput, filling missing signals
// from the request text.
func decide(kind core.AgentKind, content, request string) core.AgentOutput {
	var d decision

	parsed := false
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		parsed = json.Unmarshal([]byte(content[start:end+1]), &d) == nil
	}

	out := core.AgentOutput{Output: strings.TrimSpace(content)}
	if parsed && d.Output != "" {
		out.Output = d.Output
	}

	switch kind {
	case core.KindRouting:
		out.Signals.Category = strings.ToLower(strings.TrimSpace(d.Category))
		if out.Signals.Category == "" {
			out.Signals.Category = Categorize(request)
		}
	case core.KindSupport:
		if d.Severity != nil {
			out.Signals.Severity = clamp(*d.Severity)
		} else {
			out.Signals.Severity = Severity(request)
		}
		out.Signals.Resolved = d.Resolved
	case core.KindEscalation:
		out.Signals.Verdict = strings.TrimSpace(d.Verdict)
	}

	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
