package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// ErrAgentTimeout is returned when a single agent call exceeds RunnerOptions.Timeout.
var ErrAgentTimeout = errors.New("agent timeout")

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Memory receives one InteractionRecord per completed stage. Optional.
	Memory core.MemoryBank
	// Sessions links appended records to the session. Optional.
	Sessions core.SessionStore
	// Tools is handed to agents whose input carries no invoker.
	Tools    core.ToolInvoker
	Recorder core.Recorder
	Logger   logging.Logger
	// Timeout bounds one agent call. Zero disables the bound.
	Timeout time.Duration
	// ContextLimit caps the memory entries given to an agent; zero means none.
	ContextLimit int
	Now          func() time.Time
}

// Runner invokes agents uniformly: it loads session context, bounds the call,
// records agent events and persists the completed stage.
type Runner struct {
	opts RunnerOptions
}

// NewRunner creates a Runner.
func NewRunner(optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Recorder:     core.NopRecorder{},
		Logger:       logging.NoOpLogger{},
		Timeout:      10 * time.Second,
		ContextLimit: 10,
		Now:          time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Recorder == nil {
		opts.Recorder = core.NopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// Result is the outcome of one stage.
type Result struct {
	Stage   core.StageOutput
	Seq     uint64
	Latency time.Duration
	Err     error
}

// Failed reports whether the stage did not complete.
func (r Result) Failed() bool { return r.Err != nil }

// Run invokes a with in and returns its stage output. On success the stage is
// appended to the MemoryBank and linked to the session before Run returns.
func (r *Runner) Run(ctx context.Context, a core.Agent, in core.AgentInput) Result {
	name := a.Name()
	start := r.opts.Now()

	r.opts.Recorder.RecordEvent(in.SessionID, core.EventAgentStart, map[string]any{
		"agent": name,
		"kind":  string(a.Kind()),
		"turn":  in.Turn,
	})
	r.opts.Logger.Debug("agent.run.start", "agent", name, "session", in.SessionID, "turn", in.Turn)

	if in.Tools == nil {
		in.Tools = r.opts.Tools
	}
	if in.Context == nil && r.opts.Memory != nil && r.opts.ContextLimit > 0 && in.SessionID != "" {
		entries, err := r.opts.Memory.RetrieveContext(ctx, in.SessionID, r.opts.ContextLimit)
		if err != nil {
			r.opts.Logger.Warn("agent.context.error", "agent", name, "session", in.SessionID, "error", err)
		}
		in.Context = entries
	}

	out, err := r.invoke(core.WithSessionID(ctx, in.SessionID), a, in)
	latency := r.opts.Now().Sub(start)

	if err != nil {
		r.opts.Recorder.RecordEvent(in.SessionID, core.EventAgentError, map[string]any{
			"agent":             name,
			"kind":              string(a.Kind()),
			core.PayloadLatency: latency,
			core.PayloadError:   err.Error(),
		})
		r.opts.Logger.Error("agent.run.error", "agent", name, "session", in.SessionID, "error", err)

		return Result{Latency: latency, Err: fmt.Errorf("agent %s: %w", name, err)}
	}

	stage := core.StageOutput{Agent: name, Kind: a.Kind(), Output: out.Output, Signals: out.Signals}

	seq, err := r.persist(ctx, in, stage, start, latency)
	if err != nil {
		r.opts.Recorder.RecordEvent(in.SessionID, core.EventAgentError, map[string]any{
			"agent":             name,
			"kind":              string(a.Kind()),
			core.PayloadLatency: latency,
			core.PayloadError:   err.Error(),
		})
		r.opts.Logger.Error("agent.persist.error", "agent", name, "session", in.SessionID, "error", err)

		return Result{Stage: stage, Latency: latency, Err: fmt.Errorf("agent %s: %w", name, err)}
	}

	r.opts.Recorder.RecordEvent(in.SessionID, core.EventAgentEnd, map[string]any{
		"agent":             name,
		"kind":              string(a.Kind()),
		"seq":               seq,
		core.PayloadLatency: latency,
	})
	r.opts.Logger.Debug("agent.run.end", "agent", name, "session", in.SessionID, "duration_ms", latency.Milliseconds())

	return Result{Stage: stage, Seq: seq, Latency: latency}
}

// invoke runs the agent in its own goroutine so an agent ignoring its
// context still cannot hold the caller past the timeout.
func (r *Runner) invoke(ctx context.Context, a core.Agent, in core.AgentInput) (core.AgentOutput, error) {
	callCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	type outcome struct {
		out core.AgentOutput
		err error
	}

	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		out, err := a.Invoke(callCtx, in)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return core.AgentOutput{}, fmt.Errorf("%w: exceeded %s", ErrAgentTimeout, r.opts.Timeout)
		}
		return o.out, o.err
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return core.AgentOutput{}, fmt.Errorf("%w: exceeded %s", ErrAgentTimeout, r.opts.Timeout)
		}
		return core.AgentOutput{}, ctx.Err()
	}
}

func (r *Runner) persist(ctx context.Context, in core.AgentInput, stage core.StageOutput, start time.Time, latency time.Duration) (uint64, error) {
	if r.opts.Memory == nil || in.SessionID == "" {
		return 0, nil
	}

	seq, err := r.opts.Memory.Append(ctx, in.SessionID, core.InteractionRecord{
		SessionID: in.SessionID,
		AgentName: stage.Agent,
		Input:     in.Text,
		Output:    stage.Output,
		Timestamp: start,
		Latency:   latency,
	})
	if err != nil {
		return 0, fmt.Errorf("append interaction: %w", err)
	}

	if r.opts.Sessions != nil {
		if err := r.opts.Sessions.AppendInteraction(ctx, in.SessionID, core.InteractionRef{Seq: seq, AgentName: stage.Agent}); err != nil {
			return seq, fmt.Errorf("link interaction: %w", err)
		}
	}

	return seq, nil
}
