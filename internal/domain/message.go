package domain

import "encoding/json"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a structured message body. The populated
// fields depend on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// LLMMessage is a single turn in the list sent to a model. A tool_result
// block must reference a tool_use id from the immediately preceding
// assistant message.
type LLMMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`

	// ReasoningContent carries provider-supplied reasoning attached to an
	// assistant turn; some vendors require it to be replayed verbatim on
	// assistant messages that carry tool calls.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// TextMessage builds a message with a single text block.
func TextMessage(role, text string) LLMMessage {
	return LLMMessage{
		Role:    role,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// Text returns the first text block's content, or "".
func (m LLMMessage) Text() string {
	for _, b := range m.Content {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// StopReason is the normalized reason a model ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage tracks token consumption for one call or one whole agent run.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
}

// LLMResponse is the normalized provider response. Every provider adapter
// must produce this shape regardless of the vendor wire format.
type LLMResponse struct {
	Text             string         `json:"text"`
	Content          []ContentBlock `json:"content"`
	StopReason       StopReason     `json:"stop_reason"`
	ToolCalls        []ToolCall     `json:"tool_calls"`
	Usage            Usage          `json:"usage"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

// Mention is a user referenced inside a chat message.
type Mention struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`
}

// Attachment is a non-text payload carried by an inbound message.
type Attachment struct {
	Type string `json:"type"` // "image" or "file"
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// Chat types for UnifiedMessage.
const (
	ChatP2P   = "p2p"
	ChatGroup = "group"
)

// UnifiedMessage is the gateway-normalized inbound message.
type UnifiedMessage struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	ChatType  string `json:"chat_type"`
	Text      string `json:"text"`

	// RootID is the thread root message id, set when the user replied
	// inside an existing thread.
	RootID string `json:"root_id,omitempty"`
	// ParentID is the directly replied-to message id.
	ParentID string `json:"parent_id,omitempty"`

	Mentions    []Mention    `json:"mentions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   int64        `json:"timestamp"`
}

// ThreadRoot returns the id that keys this message's conversation thread:
// the reply root when present, otherwise the message itself starts a thread.
func (m UnifiedMessage) ThreadRoot() string {
	if m.RootID != "" {
		return m.RootID
	}
	return m.MessageID
}
