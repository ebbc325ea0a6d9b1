package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/core"
)

// parallel runs routing and support concurrently and escalates when support
// reports a severity at or above the threshold.
func (o *Orchestrator) parallel(ctx context.Context, sessionID, text string) (core.Response, error) {
	in := core.AgentInput{SessionID: sessionID, Text: text}

	results := o.runner.Parallel(ctx, in, o.agents.Routing, o.agents.Support)
	routing, support := results[0], results[1]

	if routing.Failed() && support.Failed() {
		return core.Response{}, fmt.Errorf("all parallel branches failed: %w", errors.Join(routing.Err, support.Err))
	}

	resp := core.Response{Partial: routing.Failed() || support.Failed()}

	if !routing.Failed() {
		resp.Category = routing.Stage.Signals.Category
		resp.ResolutionText = routing.Stage.Output
	}

	if !support.Failed() {
		resp.ResolutionText = support.Stage.Output

		if support.Stage.Signals.Severity >= o.opts.SeverityThreshold {
			upstream := []core.StageOutput{support.Stage}
			if !routing.Failed() {
				upstream = []core.StageOutput{routing.Stage, support.Stage}
			}

			esc := o.runner.Run(ctx, o.agents.Escalation, core.AgentInput{SessionID: sessionID, Text: text, Upstream: upstream})
			if esc.Failed() {
				if ctx.Err() != nil {
					return resp, esc.Err
				}
				o.opts.Logger.Warn("orchestrator.escalation.error", "session", sessionID, "error", esc.Err)
				resp.Partial = true
			} else {
				o.applyVerdict(ctx, sessionID, text, esc.Stage, &resp)
			}
		}
	}

	if err := o.complete(ctx, sessionID); err != nil {
		return resp, err
	}
	resp.Status = core.StatusCompleted

	return resp, nil
}

// sequential chains routing, support and escalation.
func (o *Orchestrator) sequential(ctx context.Context, sessionID, text string) (core.Response, error) {
	chain, err := o.runner.Sequential(ctx, core.AgentInput{SessionID: sessionID, Text: text},
		o.agents.Routing, o.agents.Support, o.agents.Escalation)

	resp := core.Response{}
	for _, stage := range chain {
		switch stage.Kind {
		case core.KindRouting:
			resp.Category = stage.Signals.Category
			resp.ResolutionText = stage.Output
		case core.KindSupport:
			resp.ResolutionText = stage.Output
		}
	}

	if err != nil {
		resp.Partial = len(chain) > 0
		return resp, err
	}

	o.applyVerdict(ctx, sessionID, text, chain[len(chain)-1], &resp)

	if err := o.complete(ctx, sessionID); err != nil {
		return resp, err
	}
	resp.Status = core.StatusCompleted

	return resp, nil
}

// startLoop records the initial checkpoint and runs the loop from turn zero.
func (o *Orchestrator) startLoop(ctx context.Context, sessionID string, req core.Request) (core.Response, error) {
	maxTurns := o.opts.MaxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}

	cp := core.Checkpoint{Mode: core.ModeLoop, Request: req.Text, MaxTurns: maxTurns}
	if err := o.sessions.SaveCheckpoint(ctx, sessionID, cp); err != nil {
		return core.Response{}, fmt.Errorf("save checkpoint: %w", err)
	}

	return o.runLoop(ctx, sessionID, cp)
}

// runLoop continues a loop from cp.Iteration. The session is re-read before
// every turn; a PAUSED session ends the run with the checkpoint intact.
func (o *Orchestrator) runLoop(ctx context.Context, sessionID string, cp core.Checkpoint) (core.Response, error) {
	defer o.trackLoop(sessionID)()

	var prev *core.StageOutput
	if cp.Partial != "" {
		prev = &core.StageOutput{Agent: o.agents.Support.Name(), Kind: core.KindSupport, Output: cp.Partial}
	}

	maxTurns := cp.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.opts.MaxTurns
	}

	loop := o.runner.NewLoop(o.agents.Support,
		agent.WithMaxIters(maxTurns),
		agent.WithBeforeTurn(func(ctx context.Context, _ int) error {
			sess, err := o.sessions.Get(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status.IsTerminal() {
				return fmt.Errorf("%w: session %s is %s", core.ErrSessionTerminal, sessionID, sess.Status)
			}
			if sess.Checkpoint == nil || sess.Checkpoint.Generation != cp.Generation {
				return fmt.Errorf("%w: session %s was resumed by another run", core.ErrStaleCheckpoint, sessionID)
			}
			if sess.Status == core.StatusPaused {
				return agent.ErrStopLoop
			}
			return nil
		}),
		agent.WithAfterTurn(func(ctx context.Context, turn int, out core.StageOutput) error {
			next := cp
			next.Iteration = turn + 1
			next.Partial = out.Output
			return o.sessions.SaveCheckpoint(ctx, sessionID, next)
		}),
	)

	res, err := loop.Run(ctx, core.AgentInput{SessionID: sessionID, Text: cp.Request}, cp.Iteration, prev)

	resp := core.Response{Iteration: res.Next}
	if res.Last != nil {
		resp.ResolutionText = res.Last.Output
	}

	if errors.Is(err, core.ErrStaleCheckpoint) {
		return o.superseded(ctx, sessionID, resp)
	}

	if err != nil {
		resp.Partial = res.Last != nil
		return resp, err
	}

	if res.Stopped {
		return o.paused(ctx, sessionID, resp)
	}

	if !res.Resolved && res.Last != nil {
		esc := o.runner.Run(ctx, o.agents.Escalation, core.AgentInput{
			SessionID: sessionID,
			Text:      cp.Request,
			Upstream:  []core.StageOutput{*res.Last},
		})
		if esc.Failed() {
			if ctx.Err() != nil {
				return resp, esc.Err
			}
			o.opts.Logger.Warn("orchestrator.escalation.error", "session", sessionID, "error", esc.Err)
			resp.Partial = true
		} else {
			o.applyVerdict(ctx, sessionID, cp.Request, esc.Stage, &resp)
		}
	}

	if err := o.complete(ctx, sessionID); err != nil {
		// a pause that landed after the last turn wins
		if errors.Is(err, core.ErrInvalidTransition) {
			if sess, getErr := o.sessions.Get(ctx, sessionID); getErr == nil && sess.Status == core.StatusPaused {
				return o.paused(ctx, sessionID, resp)
			}
		}
		return resp, err
	}
	resp.Status = core.StatusCompleted

	return resp, nil
}

func (o *Orchestrator) paused(ctx context.Context, sessionID string, resp core.Response) (core.Response, error) {
	resp.Status = core.StatusPaused

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return resp, err
	}
	if sess.Checkpoint != nil {
		resp.Iteration = sess.Checkpoint.Iteration
		resp.ResumeToken = sess.Checkpoint.Token
	}

	o.opts.Logger.Info("orchestrator.loop.paused", "session", sessionID, "iteration", resp.Iteration)

	return resp, nil
}

// superseded ends a loop run whose session was resumed by a newer run. The
// newer run owns the checkpoint and the outcome of the session.
func (o *Orchestrator) superseded(ctx context.Context, sessionID string, resp core.Response) (core.Response, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return resp, err
	}

	resp.Status = sess.Status
	if sess.Checkpoint != nil {
		resp.Iteration = sess.Checkpoint.Iteration
	}

	o.opts.Logger.Info("orchestrator.loop.superseded", "session", sessionID, "iteration", resp.Iteration)

	return resp, nil
}
