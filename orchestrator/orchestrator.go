package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/core"
)

// Agents groups the three agent roles. Each must report the matching kind.
type Agents struct {
	Routing    core.Agent
	Support    core.Agent
	Escalation core.Agent
}

func (a Agents) validate() error {
	for _, c := range []struct {
		agent core.Agent
		kind  core.AgentKind
	}{
		{a.Routing, core.KindRouting},
		{a.Support, core.KindSupport},
		{a.Escalation, core.KindEscalation},
	} {
		if c.agent == nil {
			return fmt.Errorf("%w: missing %s agent", core.ErrValidation, c.kind)
		}
		if c.agent.Kind() != c.kind {
			return fmt.Errorf("%w: agent %s has kind %s, want %s", core.ErrValidation, c.agent.Name(), c.agent.Kind(), c.kind)
		}
	}
	return nil
}

// Orchestrator runs customer requests through the agents according to the
// request mode. It is safe for concurrent use; requests for different
// sessions proceed independently.
type Orchestrator struct {
	sessions core.SessionStore
	memory   core.MemoryBank
	tools    core.ToolInvoker
	agents   Agents
	runner   *agent.Runner
	opts     Options

	// loops holds a done channel per session with a loop running in this
	// process.
	loops sync.Map
}

// New creates an Orchestrator. tools may be nil, in which case escalations
// are not ticketed.
func New(sessions core.SessionStore, memory core.MemoryBank, tools core.ToolInvoker, agents Agents, optFns ...func(o *Options)) (*Orchestrator, error) {
	if sessions == nil || memory == nil {
		return nil, fmt.Errorf("%w: session store and memory bank are required", core.ErrValidation)
	}
	if err := agents.validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(optFns...)

	runner := agent.NewRunner(func(o *agent.RunnerOptions) {
		o.Memory = memory
		o.Sessions = sessions
		o.Tools = tools
		o.Recorder = opts.Recorder
		o.Logger = opts.Logger
		o.Timeout = opts.AgentTimeout
		o.ContextLimit = opts.ContextLimit
		o.Now = opts.Now
	})

	return &Orchestrator{
		sessions: sessions,
		memory:   memory,
		tools:    tools,
		agents:   agents,
		runner:   runner,
		opts:     opts,
	}, nil
}

// Process handles one customer request. A new session is created unless the
// request names an ACTIVE one.
func (o *Orchestrator) Process(ctx context.Context, req core.Request) (core.Response, error) {
	if err := req.Validate(); err != nil {
		o.opts.Recorder.RecordEvent(req.SessionID, core.EventRequestError, map[string]any{core.PayloadError: err.Error()})
		return core.Response{}, err
	}

	mode, _ := core.ParseMode(string(req.Mode))
	if mode == "" {
		mode = o.opts.Mode
	}

	sess, err := o.session(ctx, req.SessionID)
	if err != nil {
		o.opts.Recorder.RecordEvent(req.SessionID, core.EventRequestError, map[string]any{core.PayloadError: err.Error()})
		return core.Response{SessionID: req.SessionID}, err
	}

	start := o.opts.Now()
	o.opts.Recorder.RecordEvent(sess.ID, core.EventRequestStart, map[string]any{"mode": string(mode)})
	o.opts.Logger.Info("orchestrator.process.start", "session", sess.ID, "mode", mode)

	reqCtx, cancel := o.withDeadline(ctx)
	defer cancel()

	var resp core.Response

	switch mode {
	case core.ModeSequential:
		resp, err = o.sequential(reqCtx, sess.ID, req.Text)
	case core.ModeLoop:
		resp, err = o.startLoop(reqCtx, sess.ID, req)
	default:
		resp, err = o.parallel(reqCtx, sess.ID, req.Text)
	}

	return o.finish(ctx, reqCtx, sess.ID, start, resp, err)
}

// Pause suspends a session. A running LOOP stops at its next turn boundary.
// The returned token is required by Resume.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) (string, error) {
	token, err := o.sessions.Pause(ctx, sessionID)
	if err != nil {
		o.opts.Recorder.RecordEvent(sessionID, core.EventRequestError, map[string]any{"op": "pause", core.PayloadError: err.Error()})
		return "", err
	}

	o.opts.Recorder.RecordEvent(sessionID, core.EventLoopPaused, nil)
	o.opts.Logger.Info("orchestrator.pause", "session", sessionID)

	return token, nil
}

// Resume reactivates a paused session. A paused LOOP continues from the
// checkpointed turn; other sessions simply return to ACTIVE.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, token string) (core.Response, error) {
	if err := o.awaitLoop(ctx, sessionID); err != nil {
		return core.Response{SessionID: sessionID}, err
	}

	sess, err := o.sessions.Resume(ctx, sessionID, token)
	if err != nil {
		o.opts.Recorder.RecordEvent(sessionID, core.EventRequestError, map[string]any{"op": "resume", core.PayloadError: err.Error()})
		o.opts.Logger.Warn("orchestrator.resume.error", "session", sessionID, "error", err)

		resp := core.Response{SessionID: sessionID}
		if errors.Is(err, core.ErrSessionExpired) {
			resp.Status = core.StatusFailed
		}
		return resp, err
	}

	o.opts.Logger.Info("orchestrator.resume", "session", sessionID)

	if sess.Checkpoint == nil || sess.Checkpoint.Mode != core.ModeLoop {
		return core.Response{SessionID: sessionID, Status: sess.Status}, nil
	}

	start := o.opts.Now()
	o.opts.Recorder.RecordEvent(sessionID, core.EventRequestStart, map[string]any{
		"mode":      string(core.ModeLoop),
		"iteration": sess.Checkpoint.Iteration,
	})

	reqCtx, cancel := o.withDeadline(ctx)
	defer cancel()

	resp, err := o.runLoop(reqCtx, sessionID, *sess.Checkpoint)

	return o.finish(ctx, reqCtx, sessionID, start, resp, err)
}

// trackLoop registers a running loop for sessionID. The returned func must
// be called when the loop returns.
func (o *Orchestrator) trackLoop(sessionID string) func() {
	done := make(chan struct{})
	o.loops.Store(sessionID, done)
	return func() {
		o.loops.CompareAndDelete(sessionID, done)
		close(done)
	}
}

// awaitLoop waits until a loop of sessionID running in this process reached
// its turn boundary, so a paused turn is never executed twice.
func (o *Orchestrator) awaitLoop(ctx context.Context, sessionID string) error {
	v, ok := o.loops.Load(sessionID)
	if !ok {
		return nil
	}

	select {
	case <-v.(chan struct{}):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) session(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return o.sessions.Create(ctx)
	}

	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case sess.Status.IsTerminal():
		return nil, fmt.Errorf("%w: session %s is %s", core.ErrSessionTerminal, id, sess.Status)
	case sess.Status == core.StatusPaused:
		return nil, fmt.Errorf("%w: session %s is paused", core.ErrInvalidTransition, id)
	}

	return sess, nil
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.RequestTimeout)
}

// finish maps request deadline expiry to ErrOrchestrationTimeout, records
// the request outcome and fails the session on error.
func (o *Orchestrator) finish(ctx, reqCtx context.Context, sessionID string, start time.Time, resp core.Response, err error) (core.Response, error) {
	latency := o.opts.Now().Sub(start)
	resp.SessionID = sessionID

	if err != nil && ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: exceeded %s: %w", core.ErrOrchestrationTimeout, o.opts.RequestTimeout, err)
	}

	if err != nil && !errors.Is(err, core.ErrSessionTerminal) {
		resp.Status = o.fail(ctx, sessionID)

		// a pause that landed before completion wins
		if resp.Status == core.StatusPaused && errors.Is(err, core.ErrInvalidTransition) {
			resp, err = o.paused(context.WithoutCancel(ctx), sessionID, resp)
		}
	}

	if err != nil {
		o.opts.Recorder.RecordEvent(sessionID, core.EventRequestError, map[string]any{
			core.PayloadLatency: latency,
			core.PayloadError:   err.Error(),
		})
		o.opts.Logger.Error("orchestrator.process.error", "session", sessionID, "error", err)

		return resp, err
	}

	o.opts.Recorder.RecordEvent(sessionID, core.EventRequestEnd, map[string]any{
		"status":            string(resp.Status),
		"partial":           resp.Partial,
		"escalated":         resp.EscalationFlag,
		core.PayloadLatency: latency,
	})
	o.opts.Logger.Info("orchestrator.process.end", "session", sessionID, "status", resp.Status, "duration_ms", latency.Milliseconds())

	return resp, nil
}

// complete marks the session COMPLETED.
func (o *Orchestrator) complete(ctx context.Context, sessionID string) error {
	if err := o.sessions.UpdateStatus(ctx, sessionID, core.StatusCompleted); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// fail marks an ACTIVE session FAILED even when ctx already expired and
// returns the resulting status. A PAUSED session stays paused; only an
// expired resume fails it.
func (o *Orchestrator) fail(ctx context.Context, sessionID string) core.Status {
	ctx = context.WithoutCancel(ctx)

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return core.StatusFailed
	}
	if sess.Status != core.StatusActive {
		return sess.Status
	}

	if err := o.sessions.UpdateStatus(ctx, sessionID, core.StatusFailed); err != nil {
		o.opts.Logger.Warn("orchestrator.fail.error", "session", sessionID, "error", err)
		if sess, getErr := o.sessions.Get(ctx, sessionID); getErr == nil {
			return sess.Status
		}
	}

	return core.StatusFailed
}
