package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/supportmesh/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a JSON Schema parameter specification
//   - Validates supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     TRANSIENT         -> the function marked the failure as retryable
//     EXECUTION_ERROR   -> any other failure
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	validator   *util.SchemaValidator
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	lookup := NewFunctionTool(
//	  "lookup_order",
//	  "Look up an order by id",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "order_id": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"order_id"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return orders.Get(ctx, args["order_id"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		validator:   util.NewSchemaValidator(parameters),
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using reflection.
//
// Example:
//
//	type TicketArgs struct {
//	  Issue    string `json:"issue" description:"Issue summary"`
//	  Priority string `json:"priority" description:"Ticket priority"`
//	}
//
//	ticket := NewFunctionToolFromStruct("create_ticket", "Create a support ticket", TicketArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates the provided args against the declared schema then invokes
// the underlying function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := t.validator.Validate(args); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
			Err:     err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}

		code := CodeExecution
		if IsRetryable(err) {
			code = CodeTransient
		}

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    code,
			Err:     err,
		}
	}

	return result, nil
}
