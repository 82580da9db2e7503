package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"gracebot/internal/domain"
)

// MemoryStore is the slice of the memory manager the memory tools need.
type MemoryStore interface {
	SearchTopK(ctx context.Context, userID, query string, topK int) ([]domain.MemoryEntry, error)
	Write(ctx context.Context, userID string, entry domain.MemoryEntry) (string, error)
}

// MemoryReadTool retrieves stored memories relevant to a query.
type MemoryReadTool struct {
	store  MemoryStore
	logger *slog.Logger
}

// NewMemoryReadTool creates a memory_read tool.
func NewMemoryReadTool(store MemoryStore, logger *slog.Logger) *MemoryReadTool {
	return &MemoryReadTool{store: store, logger: logger}
}

func (t *MemoryReadTool) Name() string { return "memory_read" }
func (t *MemoryReadTool) Description() string {
	return "Retrieve memories relevant to a query. Returns important information stored from past conversations."
}

func (t *MemoryReadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query or question"},
				"limit": {"type": "number", "description": "Max entries to return, default 5"}
			},
			"required": ["query"]
		}`),
	}
}

type memoryReadParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (t *MemoryReadTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p memoryReadParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}

	memories, err := t.store.SearchTopK(ctx, tc.UserID, p.Query, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	if len(memories) == 0 {
		return &domain.ToolResult{Content: "No relevant memories found."}, nil
	}

	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf("[%s] (%s, importance: %d) %s",
			m.CreatedAt, m.Category, m.Importance, m.Content))
	}
	return &domain.ToolResult{Content: strings.Join(lines, "\n")}, nil
}

// MemoryWriteTool stores a fact for long-term memory.
type MemoryWriteTool struct {
	store  MemoryStore
	logger *slog.Logger
}

// NewMemoryWriteTool creates a memory_write tool.
func NewMemoryWriteTool(store MemoryStore, logger *slog.Logger) *MemoryWriteTool {
	return &MemoryWriteTool{store: store, logger: logger}
}

func (t *MemoryWriteTool) Name() string { return "memory_write" }
func (t *MemoryWriteTool) Description() string {
	return "Store an important fact for long-term memory. Use when the user explicitly asks to remember something or when the conversation reveals lasting preferences/facts."
}

func (t *MemoryWriteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "Content to remember"},
				"category": {"type": "string", "enum": ["preference", "fact", "event", "skill"], "description": "Category: preference, fact, event, or skill"},
				"importance": {"type": "number", "minimum": 1, "maximum": 10, "description": "Importance 1-10"}
			},
			"required": ["content", "category", "importance"]
		}`),
	}
}

type memoryWriteParams struct {
	Content    string `json:"content"`
	Category   string `json:"category"`
	Importance int    `json:"importance"`
}

func (t *MemoryWriteTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p memoryWriteParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	id, err := t.store.Write(ctx, tc.UserID, domain.MemoryEntry{
		Content:    p.Content,
		Category:   p.Category,
		Importance: p.Importance,
	})
	if err != nil {
		return nil, fmt.Errorf("write memory: %w", err)
	}

	t.logger.Debug("memory written", "user_id", tc.UserID, "memory_id", id)
	return &domain.ToolResult{Content: fmt.Sprintf("Memory saved: %q", p.Content)}, nil
}
