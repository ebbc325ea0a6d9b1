package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configures a Registry.
type Options struct {
	Retry RetryConfig
	// DefaultTimeout bounds one Invoke across all attempts when neither the
	// caller nor the tool registration sets a timeout.
	DefaultTimeout time.Duration
	Recorder       core.Recorder
	Logger         logging.Logger
	Now            func() time.Time
}

// RegisterOption customizes a single tool registration.
type RegisterOption func(r *registration)

type registration struct {
	tool    Tool
	limiter *rate.Limiter
	timeout time.Duration
	retry   *RetryConfig
}

// WithRateLimit throttles calls to the tool to limit events per second with
// the given burst. Waiting for a token counts against the invocation timeout.
func WithRateLimit(limit rate.Limit, burst int) RegisterOption {
	return func(r *registration) { r.limiter = rate.NewLimiter(limit, burst) }
}

// WithTimeout overrides the registry default timeout for the tool.
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *registration) { r.timeout = d }
}

// WithRetry overrides the registry retry policy for the tool.
func WithRetry(cfg RetryConfig) RegisterOption {
	return func(r *registration) { r.retry = &cfg }
}

// Registry holds named tools and invokes them with timeout, classified retry
// and optional rate limiting. It implements core.ToolInvoker and is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration
	opts  Options
}

var _ core.ToolInvoker = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Retry:          DefaultRetryConfig(),
		DefaultTimeout: 5 * time.Second,
		Recorder:       core.NopRecorder{},
		Logger:         logging.NoOpLogger{},
		Now:            time.Now,
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

	return &Registry{tools: make(map[string]*registration), opts: opts}
}

// Register adds t under its name. Names must be unique.
func (r *Registry) Register(t Tool, optFns ...RegisterOption) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("%w: tool must have a name", core.ErrValidation)
	}

	reg := &registration{tool: t}
	for _, fn := range optFns {
		fn(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: tool %q already registered", core.ErrValidation, t.Name())
	}
	r.tools[t.Name()] = reg

	return nil
}

// Has reports whether a tool named name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Tools returns all registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Invoke runs the named tool. timeout bounds the whole invocation including
// retries and backoff; zero selects the registration or registry default.
// A ToolCallRecord is returned for every call, successful or not.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (core.ToolCallRecord, error) {
	start := time.Now()
	sessionID := core.SessionIDFromContext(ctx)

	rec := core.ToolCallRecord{
		SessionID: sessionID,
		ToolName:  name,
		Args:      args,
		StartedAt: r.opts.Now(),
	}

	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		err := &ToolError{Tool: name, Message: "tool not registered", Code: CodeNotFound}
		return r.finish(rec, start, err)
	}

	if timeout <= 0 {
		timeout = reg.timeout
	}
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	cfg := r.opts.Retry
	if reg.retry != nil {
		cfg = *reg.retry
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error

attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec.AttemptCount = attempt

		if reg.limiter != nil {
			if err := reg.limiter.Wait(callCtx); err != nil {
				lastErr = &ToolError{Tool: name, Message: "rate limit wait exceeds deadline", Code: CodeTimeout, Err: err}
				break
			}
		}

		result, err := r.call(callCtx, reg.tool, args)
		if err == nil {
			rec.Result = result
			rec.Status = core.ToolCallOK
			if attempt > 1 {
				rec.Status = core.ToolCallRetriedOK
			}
			return r.finish(rec, start, nil)
		}

		lastErr = err
		if callCtx.Err() != nil || !IsRetryable(err) || attempt == maxAttempts {
			break
		}

		backoff := cfg.Backoff(attempt)

		r.opts.Recorder.RecordEvent(sessionID, core.EventToolRetry, map[string]any{
			"tool":    name,
			"attempt": attempt,
			"backoff": backoff,
			"error":   err.Error(),
		})
		r.opts.Logger.Warn("tool.call.retry", "tool", name, "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-callCtx.Done():
			timer.Stop()
			lastErr = callCtx.Err()
			break attempts
		case <-timer.C:
		}
	}

	return r.finish(rec, start, r.classify(ctx, callCtx, name, timeout, rec.AttemptCount, lastErr))
}

// call runs the tool in its own goroutine so a tool ignoring its context
// still cannot hold the caller past the deadline.
func (r *Registry) call(ctx context.Context, t Tool, args map[string]any) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		res, err := t.Call(ctx, args)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) classify(parent, callCtx context.Context, name string, timeout time.Duration, attempts int, err error) error {
	switch {
	case parent.Err() != nil:
		return &ToolError{Tool: name, Message: parent.Err().Error(), Code: CodeExecution, Attempts: attempts, Err: parent.Err()}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &ToolError{
			Tool:     name,
			Message:  fmt.Sprintf("timed out after %s", timeout),
			Code:     CodeTimeout,
			Attempts: attempts,
			Err:      err,
		}
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		out := *toolErr
		out.Attempts = attempts
		return &out
	}

	code := CodePermanent
	if IsRetryable(err) {
		code = CodeTransient
	}

	return &ToolError{Tool: name, Message: err.Error(), Code: code, Attempts: attempts, Err: err}
}

func (r *Registry) finish(rec core.ToolCallRecord, start time.Time, err error) (core.ToolCallRecord, error) {
	rec.Duration = time.Since(start)

	payload := map[string]any{
		"tool":              rec.ToolName,
		"attempts":          rec.AttemptCount,
		core.PayloadLatency: rec.Duration,
	}

	if err != nil {
		rec.Status = core.ToolCallFailed
		rec.Error = err.Error()
		payload["status"] = string(rec.Status)
		payload[core.PayloadError] = rec.Error

		r.opts.Recorder.RecordEvent(rec.SessionID, core.EventToolCall, payload)
		r.opts.Logger.Error("tool.call.error", "tool", rec.ToolName, "attempts", rec.AttemptCount, "error", err)

		return rec, err
	}

	payload["status"] = string(rec.Status)

	r.opts.Recorder.RecordEvent(rec.SessionID, core.EventToolCall, payload)
	r.opts.Logger.Info("tool.call.success", "tool", rec.ToolName, "attempts", rec.AttemptCount, "duration_ms", rec.Duration.Milliseconds())

	return rec, nil
}
