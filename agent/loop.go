package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// ErrStopLoop is returned by a BeforeTurn hook to end the loop early without
// failing it (for example because the session was paused).
var ErrStopLoop = errors.New("loop stopped")

// Loop coordinates the repeated execution of a child agent.
//
// Each turn the child receives the previous turn's output as Upstream. The
// loop ends when the predicate holds, the turn cap is reached, a BeforeTurn
// hook returns ErrStopLoop, or a turn fails.
type Loop struct {
	runner     *Runner
	child      core.Agent
	maxIters   int
	interval   time.Duration
	predicate  func(core.StageOutput) bool
	beforeTurn func(ctx context.Context, turn int) error
	afterTurn  func(ctx context.Context, turn int, out core.StageOutput) error
}

// LoopOption defines a configuration function for customizing Loop behavior.
type LoopOption func(*Loop)

// WithMaxIters sets the maximum number of turns.
func WithMaxIters(n int) LoopOption {
	return func(l *Loop) { l.maxIters = n }
}

// WithInterval sets the time delay between turns.
func WithInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.interval = d }
}

// WithPredicate sets the termination condition evaluated after each turn.
// The default stops once the child reports Signals.Resolved.
func WithPredicate(pred func(core.StageOutput) bool) LoopOption {
	return func(l *Loop) { l.predicate = pred }
}

// WithBeforeTurn registers a hook run before every turn.
func WithBeforeTurn(fn func(ctx context.Context, turn int) error) LoopOption {
	return func(l *Loop) { l.beforeTurn = fn }
}

// WithAfterTurn registers a hook run after every successful turn, before the
// predicate is checked. An error fails the loop.
func WithAfterTurn(fn func(ctx context.Context, turn int, out core.StageOutput) error) LoopOption {
	return func(l *Loop) { l.afterTurn = fn }
}

// NewLoop constructs a loop around child. Defaults: 5 turns, no interval,
// stop when resolved.
func (r *Runner) NewLoop(child core.Agent, opts ...LoopOption) *Loop {
	l := &Loop{
		runner:    r,
		child:     child,
		maxIters:  5,
		predicate: func(out core.StageOutput) bool { return out.Signals.Resolved },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LoopResult describes how a loop ended.
type LoopResult struct {
	// Next is the index of the next turn to run.
	Next int
	// Last is the output of the most recent turn, if any.
	Last     *core.StageOutput
	Resolved bool
	// Stopped is set when a BeforeTurn hook ended the loop.
	Stopped bool
}

// Run executes turns start..maxIters-1. prev seeds Upstream for the first turn.
func (l *Loop) Run(ctx context.Context, in core.AgentInput, start int, prev *core.StageOutput) (LoopResult, error) {
	res := LoopResult{Next: start, Last: prev}

	for turn := start; turn < l.maxIters; turn++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if l.beforeTurn != nil {
			if err := l.beforeTurn(ctx, turn); err != nil {
				if errors.Is(err, ErrStopLoop) {
					res.Stopped = true
					return res, nil
				}
				return res, err
			}
		}

		turnIn := in
		turnIn.Turn = turn
		if res.Last != nil {
			turnIn.Upstream = []core.StageOutput{*res.Last}
		}

		out := l.runner.Run(ctx, l.child, turnIn)
		if out.Err != nil {
			return res, fmt.Errorf("loop turn %d failed for agent %s: %w", turn, l.child.Name(), out.Err)
		}

		stage := out.Stage
		res.Last = &stage
		res.Next = turn + 1

		l.runner.opts.Recorder.RecordEvent(in.SessionID, core.EventLoopTurn, map[string]any{
			"agent":             l.child.Name(),
			"turn":              turn,
			"resolved":          stage.Signals.Resolved,
			core.PayloadLatency: out.Latency,
		})

		if l.afterTurn != nil {
			if err := l.afterTurn(ctx, turn, stage); err != nil {
				return res, err
			}
		}

		if l.predicate != nil && l.predicate(stage) {
			res.Resolved = true
			return res, nil
		}

		if l.interval > 0 && turn < l.maxIters-1 {
			timer := time.NewTimer(l.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return res, nil
}
