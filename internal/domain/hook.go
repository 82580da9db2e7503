package domain

import "context"

// Hook names emitted at agent lifecycle extension points.
const (
	HookOnMessage     = "on-message"
	HookBeforeAgent   = "before-agent"
	HookBeforeLLMCall = "before-llm-call"
	HookAfterToolCall = "after-tool-call"
	HookAfterAgent    = "after-agent"
	HookOnError       = "on-error"
)

// HookResult is returned by hook handlers. A truthy Intercepted on
// on-message short-circuits dispatch.
type HookResult struct {
	Intercepted bool
}

// MessageHookContext is the payload for on-message.
type MessageHookContext struct {
	Message UnifiedMessage
}

// BeforeAgentHookContext is the payload for before-agent. Intercepting it
// skips the agent run for this task; no reply is sent.
type BeforeAgentHookContext struct {
	UserID    string
	SessionID string
	Message   UnifiedMessage
}

// LLMCallHookContext is the payload for before-llm-call.
type LLMCallHookContext struct {
	Messages []LLMMessage
	Round    int
}

// ToolCallHookContext is the payload for after-tool-call.
type ToolCallHookContext struct {
	ToolCall ToolCall
	Result   ToolResult
}

// AgentResultHookContext is the payload for after-agent.
type AgentResultHookContext struct {
	UserID  string
	Message UnifiedMessage
	Result  *AgentResult
}

// ErrorHookContext is the payload for on-error.
type ErrorHookContext struct {
	Err    error
	UserID string
}

// HookEmitter is the fire-and-inspect extension bus consumed by the kernel
// and the agent runner.
type HookEmitter interface {
	Emit(ctx context.Context, name string, payload any) HookResult
}
