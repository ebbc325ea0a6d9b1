package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/supportmesh/core"
)

type recordedEvent struct {
	sessionID string
	kind      string
	payload   map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) RecordEvent(sessionID, kind string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{sessionID, kind, payload})
}

func (r *recorder) byKind(kind string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func flakyTool(name string, failures int, failWith error) (*FunctionTool, *int32) {
	var calls int32
	t := NewFunctionTool(name, "flaky", map[string]any{"type": "object"},
		func(ctx context.Context, args map[string]any) (any, error) {
			n := atomic.AddInt32(&calls, 1)
			if int(n) <= failures {
				return nil, failWith
			}
			return "ok", nil
		})
	return t, &calls
}

func TestFunctionTool_ValidationError(t *testing.T) {
	kb := NewKnowledgeBaseTool(nil, 0)

	_, err := kb.Call(context.Background(), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestFunctionTool_ClassifiesExecutionErrors(t *testing.T) {
	permanent := NewFunctionTool("p", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("bad request")
	})
	_, err := permanent.Call(context.Background(), nil)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)

	transient := NewFunctionTool("t", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, &HTTPStatusError{StatusCode: http.StatusServiceUnavailable, Message: "busy"}
	})
	_, err = transient.Call(context.Background(), nil)
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeTransient, toolErr.Code)
}

func TestRegistry_RetriedOK(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(func(o *Options) {
		o.Retry = fastRetry()
		o.Recorder = rec
	})

	flaky, calls := flakyTool("flaky", 2, Transient(errors.New("connection reset")))
	require.NoError(t, reg.Register(flaky))

	ctx := core.WithSessionID(context.Background(), "s1")
	res, err := reg.Invoke(ctx, "flaky", nil, time.Second)
	require.NoError(t, err)

	assert.Equal(t, core.ToolCallRetriedOK, res.Status)
	assert.Equal(t, 3, res.AttemptCount)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))

	assert.Len(t, rec.byKind(core.EventToolRetry), 2)
	callEvents := rec.byKind(core.EventToolCall)
	require.Len(t, callEvents, 1)
	assert.Equal(t, "s1", callEvents[0].sessionID)
	assert.Equal(t, "RETRIED_OK", callEvents[0].payload["status"])
}

func TestRegistry_FirstAttemptOK(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, 0))

	res, err := reg.Invoke(context.Background(), SearchKnowledgeBase, map[string]any{"query": "cannot login"}, 0)
	require.NoError(t, err)
	assert.Equal(t, core.ToolCallOK, res.Status)
	assert.Equal(t, 1, res.AttemptCount)

	out := res.Result.(map[string]any)
	assert.Equal(t, true, out["found"])
}

func TestRegistry_ExhaustedTransient(t *testing.T) {
	reg := NewRegistry(func(o *Options) { o.Retry = fastRetry() })

	flaky, calls := flakyTool("flaky", 10, &HTTPStatusError{StatusCode: http.StatusBadGateway})
	require.NoError(t, reg.Register(flaky))

	res, err := reg.Invoke(context.Background(), "flaky", nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrToolInvocation)

	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeTransient, toolErr.Code)
	assert.Equal(t, 3, toolErr.Attempts)

	assert.Equal(t, core.ToolCallFailed, res.Status)
	assert.Equal(t, 3, res.AttemptCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestRegistry_ValidationNotRetried(t *testing.T) {
	reg := NewRegistry(func(o *Options) { o.Retry = fastRetry() })
	require.NoError(t, reg.Register(NewTicketTool(0)))

	res, err := reg.Invoke(context.Background(), CreateTicket, map[string]any{"issue": "x", "priority": "urgent"}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 1, res.AttemptCount)
	assert.Equal(t, core.ToolCallFailed, res.Status)
}

func TestRegistry_PermanentNotRetried(t *testing.T) {
	reg := NewRegistry(func(o *Options) { o.Retry = fastRetry() })

	flaky, calls := flakyTool("perm", 10, &HTTPStatusError{StatusCode: http.StatusNotFound})
	require.NoError(t, reg.Register(flaky))

	_, err := reg.Invoke(context.Background(), "perm", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestRegistry_Timeout(t *testing.T) {
	reg := NewRegistry(func(o *Options) { o.Retry = fastRetry() })

	slow := NewFunctionTool("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond) // ignores cancellation for a while
		return nil, ctx.Err()
	})
	require.NoError(t, reg.Register(slow))

	start := time.Now()
	res, err := reg.Invoke(context.Background(), "slow", nil, 20*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrToolTimeout)
	assert.Equal(t, 1, res.AttemptCount)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestRegistry_NotFound(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(func(o *Options) { o.Recorder = rec })

	res, err := reg.Invoke(context.Background(), "missing", nil, 0)
	assert.ErrorIs(t, err, core.ErrToolNotFound)
	assert.Equal(t, core.ToolCallFailed, res.Status)
	assert.Len(t, rec.byKind(core.EventToolCall), 1)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewTicketTool(0)))
	assert.ErrorIs(t, reg.Register(NewTicketTool(0)), core.ErrValidation)
	assert.True(t, reg.Has(CreateTicket))
	assert.False(t, reg.Has("nope"))
}

func TestRegistry_RateLimit(t *testing.T) {
	reg := NewRegistry()
	echo := NewFunctionTool("echo", "", nil, func(context.Context, map[string]any) (any, error) { return "ok", nil })
	require.NoError(t, reg.Register(echo, WithRateLimit(rate.Every(20*time.Millisecond), 1)))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := reg.Invoke(context.Background(), "echo", nil, time.Second)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	// a timeout shorter than the next token wait fails fast
	_, err := reg.Invoke(context.Background(), "echo", nil, time.Millisecond)
	assert.ErrorIs(t, err, core.ErrToolTimeout)
}

func TestRegistry_PanicIsReported(t *testing.T) {
	reg := NewRegistry()
	boom := NewFunctionTool("boom", "", nil, func(context.Context, map[string]any) (any, error) { panic("kaboom") })
	require.NoError(t, reg.Register(boom))

	_, err := reg.Invoke(context.Background(), "boom", nil, time.Second)
	assert.ErrorContains(t, err, "kaboom")
}

func TestCreateTicketID(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, 0))

	res, err := reg.Invoke(context.Background(), CreateTicket, map[string]any{"issue": "outage", "priority": "high"}, 0)
	require.NoError(t, err)

	out := res.Result.(map[string]any)
	assert.Regexp(t, regexp.MustCompile(`^TKT-[0-9a-f]{8}$`), out["ticket_id"])
	assert.Equal(t, "high", out["priority"])
}

func TestSearchHandlerRejectsNonStringQuery(t *testing.T) {
	search := searchHandler(DefaultArticles, 0)

	_, err := search(context.Background(), map[string]any{"query": 42})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = search(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, core.ErrValidation)

	res, err := search(context.Background(), map[string]any{"query": "Password reset"})
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["found"])
}

func TestIsRetryableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("5xx and 429 are retryable, other 4xx are not", prop.ForAll(
		func(code int) bool {
			err := &HTTPStatusError{StatusCode: code}
			want := code == http.StatusTooManyRequests || code >= 500
			return IsRetryable(err) == want
		},
		gen.IntRange(400, 599),
	))

	properties.Property("transient marker survives wrapping", prop.ForAll(
		func(msg string) bool {
			return IsRetryable(fmt.Errorf("outer: %w", Transient(errors.New(msg))))
		},
		gen.AlphaString(),
	))

	properties.Property("validation is never retried", prop.ForAll(
		func(msg string) bool {
			return !IsRetryable(Transient(fmt.Errorf("%w: %s", core.ErrValidation, msg)))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, cfg.Backoff(3))

	cfg.Jitter = 0.1
	for i := 0; i < 20; i++ {
		d := cfg.Backoff(1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}
