package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hupe1980/supportmesh/core"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with errors.Is(err, core.ErrValidation).
func (e *ValidationError) Unwrap() error { return core.ErrValidation }

// CreateSchema creates a JSON schema from a Go struct using reflection.
// This is a convenience function for creating parameter schemas from Go types.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}

		fieldSchema := map[string]any{
			"type": getJSONType(field.Type),
		}

		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}

		if enum := field.Tag.Get("enum"); enum != "" {
			fieldSchema["enum"] = strings.Split(enum, ",")
		}

		properties[fieldName] = fieldSchema

		if !hasOmitEmpty(field.Tag.Get("json")) && !isPointer(field.Type) {
			required = append(required, fieldName)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// SchemaValidator validates arguments against a parameter schema. The schema
// is compiled on first use and reused afterwards.
type SchemaValidator struct {
	schema map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchemaValidator creates a validator for schema.
func NewSchemaValidator(schema map[string]any) *SchemaValidator {
	return &SchemaValidator{schema: schema}
}

// Validate checks params. Failures are returned as *ValidationError.
func (v *SchemaValidator) Validate(params map[string]any) error {
	if len(v.schema) == 0 {
		return nil
	}

	v.once.Do(func() {
		v.compiled, v.err = CompileSchema(v.schema)
	})
	if v.err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid parameter schema: %v", v.err)}
	}

	if params == nil {
		params = map[string]any{}
	}

	inst, err := toJSONValue(params)
	if err != nil {
		return &ValidationError{Value: params, Message: fmt.Sprintf("arguments are not JSON encodable: %v", err)}
	}

	if err := v.compiled.Validate(inst); err != nil {
		return toValidationError(v.schema, params, err)
	}

	return nil
}

// ValidateParameters validates parameters against a JSON schema.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	return NewSchemaValidator(schema).Validate(params)
}

// CompileSchema compiles a schema given as Go values. Go literals such as
// []string required lists are normalized through JSON first.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return compiled, nil
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// toValidationError reports the first leaf cause. A failure at the root is
// attributed to the first missing required property, if any.
func toValidationError(schema, params map[string]any, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Message: err.Error()}
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, "/")
	if field == "" {
		field = firstMissing(schema, params)
	}

	return &ValidationError{
		Field:   field,
		Value:   params[field],
		Message: strings.TrimSpace(err.Error()),
	}
}

func firstMissing(schema, params map[string]any) string {
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if name, ok := v.(string); ok {
				required = append(required, name)
			}
		}
	}

	for _, name := range required {
		if _, ok := params[name]; !ok {
			return name
		}
	}
	return ""
}

// getJSONType returns the JSON schema type for a given Go type.
func getJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getJSONType(t.Elem())
	default:
		return "string"
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// isPointer checks if a type is a pointer.
func isPointer(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr
}
