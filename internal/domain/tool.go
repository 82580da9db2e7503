package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a tool. Failures are reported
// through IsError rather than an error return so a misbehaving tool can
// never abort an agent round.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolContext bounds what a tool execution may touch.
type ToolContext struct {
	UserID       string
	WorkspaceDir string
	SessionID    string
	MessageID    string
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, input json.RawMessage, tc ToolContext) (*ToolResult, error)
}

// ToolExecutor abstracts the tool registry as seen by the agent runner.
// Execute must never return an escaping panic; errors it returns are
// converted to tool-error content by the caller.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage, tc ToolContext) (*ToolResult, error)
	ToLLMTools() []ToolSchema
}
