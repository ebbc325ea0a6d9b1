package util

import (
	"errors"
	"testing"

	"github.com/hupe1980/supportmesh/core"
	"github.com/stretchr/testify/assert"
)

type ticketArgs struct {
	Issue    string `json:"issue" description:"Issue summary"`
	Priority string `json:"priority,omitempty" description:"Ticket priority"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(ticketArgs{})
	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "issue")
	assert.Contains(t, props, "priority")
	assert.ElementsMatch(t, []string{"issue"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"x": 5}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	if assert.True(t, errors.As(err, &vErr)) {
		assert.Equal(t, "x", vErr.Field)
	}
	assert.ErrorIs(t, err, core.ErrValidation)

	err = ValidateParameters(map[string]any{"x": "nope"}, schema)
	if assert.True(t, errors.As(err, &vErr)) {
		assert.Equal(t, "x", vErr.Field)
		assert.Equal(t, "nope", vErr.Value)
	}

	assert.Error(t, ValidateParameters(map[string]any{"x": 1.5}, schema))

	// []string required lists are honoured as well
	schema["required"] = []string{"x"}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
}

type priorityArgs struct {
	Priority string `json:"priority" enum:"low,medium,high"`
}

func TestValidateParametersEnum(t *testing.T) {
	schema := CreateSchema(priorityArgs{})

	assert.NoError(t, ValidateParameters(map[string]any{"priority": "high"}, schema))

	err := ValidateParameters(map[string]any{"priority": "urgent"}, schema)
	var vErr *ValidationError
	if assert.True(t, errors.As(err, &vErr)) {
		assert.Equal(t, "priority", vErr.Field)
	}
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSchemaValidatorInvalidSchema(t *testing.T) {
	v := NewSchemaValidator(map[string]any{"type": 42})

	err := v.Validate(map[string]any{})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorContains(t, err, "invalid parameter schema")
}

func TestSchemaValidatorEmptySchema(t *testing.T) {
	assert.NoError(t, NewSchemaValidator(nil).Validate(map[string]any{"any": "thing"}))
}
