package orchestrator

import (
	"context"
	"fmt"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/tool"
)

// applyVerdict merges an escalation stage into resp. A non-empty verdict
// overrides the support resolution and opens exactly one ticket; an empty
// verdict leaves resp untouched.
func (o *Orchestrator) applyVerdict(ctx context.Context, sessionID, text string, stage core.StageOutput, resp *core.Response) {
	if stage.Signals.Verdict == "" {
		return
	}

	resp.ResolutionText = stage.Signals.Verdict
	resp.EscalationFlag = true

	ticketID, err := o.openTicket(ctx, sessionID, text)
	if err != nil {
		o.opts.Logger.Error("orchestrator.ticket.error", "session", sessionID, "error", err)
		resp.Partial = true
	}
	resp.TicketID = ticketID

	payload := map[string]any{
		"agent":   stage.Agent,
		"verdict": stage.Signals.Verdict,
	}
	if ticketID != "" {
		payload["ticket_id"] = ticketID
	}
	if err != nil {
		payload[core.PayloadError] = err.Error()
	}
	o.opts.Recorder.RecordEvent(sessionID, core.EventEscalation, payload)

	if ticketID != "" {
		o.notify(ctx, sessionID, ticketID)
	}
}

func (o *Orchestrator) openTicket(ctx context.Context, sessionID, text string) (string, error) {
	if o.tools == nil || !o.tools.Has(tool.CreateTicket) {
		o.opts.Logger.Warn("orchestrator.ticket.unavailable", "session", sessionID)
		return "", nil
	}

	rec, err := o.tools.Invoke(core.WithSessionID(ctx, sessionID), tool.CreateTicket, map[string]any{
		"issue":    text,
		"priority": o.opts.TicketPriority,
	}, 0)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}

	if m, ok := rec.Result.(map[string]any); ok {
		if id, ok := m["ticket_id"].(string); ok {
			return id, nil
		}
	}

	return "", fmt.Errorf("create ticket: result carries no ticket_id")
}

// notify is best effort; failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, sessionID, ticketID string) {
	if o.tools == nil || !o.tools.Has(tool.SendNotification) {
		return
	}

	_, err := o.tools.Invoke(core.WithSessionID(ctx, sessionID), tool.SendNotification, map[string]any{
		"user_id": sessionID,
		"message": fmt.Sprintf("Your request was escalated to our support team (ticket %s).", ticketID),
	}, 0)
	if err != nil {
		o.opts.Logger.Warn("orchestrator.notify.error", "session", sessionID, "ticket", ticketID, "error", err)
	}
}
