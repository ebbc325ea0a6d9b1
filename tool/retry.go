package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// RetryConfig configures retry behavior for tool invocations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// A value of 0 or 1 means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff grows after each retry.
	BackoffMultiplier float64
	// Jitter adds up to the given fraction of randomness to each backoff.
	Jitter float64
}

// DefaultRetryConfig returns the baseline retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Backoff computes the delay after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	backoff := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.Jitter > 0 {
		backoff += backoff * c.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
	}
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// HTTPStatusError represents an upstream HTTP failure with a status code.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is a transient failure worth another attempt.
// Retryable errors include:
//   - errors marked with Transient or a *ToolError with code TRANSIENT
//   - HTTP 429 and 5xx responses
//   - network timeouts and deadlines set by the tool itself
//
// Cancellation and validation failures are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrValidation) {
		return false
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Code == CodeTransient
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
