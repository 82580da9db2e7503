package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"gracebot/internal/domain"
)

// validatedTool wraps a Tool so that Execute validates input against the
// tool's JSON schema before delegating. Invalid arguments become an error
// tool result, not a Go error, so the model sees what it got wrong.
type validatedTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps a tool with argument validation. Returns an
// error if the tool's schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().InputSchema
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &validatedTool{inner: t, schema: schema}, nil
}

func (v *validatedTool) Name() string              { return v.inner.Name() }
func (v *validatedTool) Description() string       { return v.inner.Description() }
func (v *validatedTool) Schema() domain.ToolSchema { return v.inner.Schema() }

func (v *validatedTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	var parsed any
	if err := json.Unmarshal(input, &parsed); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON arguments: %v", err),
		}, nil
	}

	result := v.schema.Validate(parsed)
	if !result.IsValid() {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid arguments: %s", result.Error()),
		}, nil
	}

	return v.inner.Execute(ctx, input, tc)
}
