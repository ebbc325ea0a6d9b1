package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/model"
)

// SummarizerOptions configures a ModelSummarizer.
type SummarizerOptions struct {
	Instruction string
	// Fallback is used when the model fails. Optional.
	Fallback core.Summarizer
	Logger   logging.Logger
}

// ModelSummarizer condenses interaction records with a language model.
type ModelSummarizer struct {
	llm  model.Model
	opts SummarizerOptions
}

var _ core.Summarizer = (*ModelSummarizer)(nil)

// NewModelSummarizer creates a summarizer backed by llm.
func NewModelSummarizer(llm model.Model, optFns ...func(o *SummarizerOptions)) *ModelSummarizer {
	opts := SummarizerOptions{
		Instruction: "Summarize these customer support interactions in at most three sentences. Keep ticket ids, categories and open issues.",
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &ModelSummarizer{llm: llm, opts: opts}
}

// Summarize implements core.Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, records []core.InteractionRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "- %s %s: %q => %q\n", r.Timestamp.UTC().Format(time.RFC3339), r.AgentName, r.Input, r.Output)
	}

	resp, err := model.Complete(ctx, s.llm, model.Request{
		Instructions: s.opts.Instruction,
		Messages:     []model.Message{{Role: model.RoleUser, Content: b.String()}},
	})
	if err == nil && strings.TrimSpace(resp.Message.Content) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		if s.opts.Fallback != nil && ctx.Err() == nil {
			s.opts.Logger.Warn("summarizer.model.error", "model", s.llm.Info().Name, "error", err)
			return s.opts.Fallback.Summarize(ctx, records)
		}
		return "", fmt.Errorf("summarize: %w", err)
	}

	return strings.TrimSpace(resp.Message.Content), nil
}
