// Package tool implements the tool calling subsystem that lets agents and the
// orchestrator invoke structured capabilities (lookups, ticketing,
// notifications) with schema validated arguments, bounded time, classified
// retry and consistent error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/util"
)

// Tool defines a named capability that can be invoked through a Registry.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a JSON schema for parameters
//   - Respect context cancellation
//   - Mark retryable failures with Transient or *HTTPStatusError
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// Model-backed agents show it to the LLM.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with already decoded arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeTransient  = "TRANSIENT"
	CodePermanent  = "PERMANENT"
	CodeTimeout    = "TIMEOUT"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	// Attempts is the number of attempts made before giving up.
	Attempts int   `json:"attempts,omitempty"`
	Err      error `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the matching core sentinel and the underlying cause, so
// errors.Is(err, core.ErrToolTimeout) and friends work on tool failures.
func (e *ToolError) Unwrap() []error {
	errs := []error{core.ErrToolInvocation}
	switch e.Code {
	case CodeValidation:
		errs = append(errs, core.ErrValidation)
	case CodeTimeout:
		errs = append(errs, core.ErrToolTimeout)
	case CodeNotFound:
		errs = append(errs, core.ErrToolNotFound)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
