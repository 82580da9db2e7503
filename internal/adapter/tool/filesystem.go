package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gracebot/internal/domain"
)

// maxReadBytes bounds a single file_read so one tool call cannot blow the
// context window.
const maxReadBytes = 256 * 1024

// resolveWorkspacePath joins path into the workspace and rejects escapes.
func resolveWorkspacePath(workspace, path string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}

	resolved := filepath.Join(workspace, path)
	rel, err := filepath.Rel(workspace, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

// FileReadTool reads files within the per-user workspace.
type FileReadTool struct {
	logger *slog.Logger
}

// NewFileReadTool creates a file_read tool.
func NewFileReadTool(logger *slog.Logger) *FileReadTool {
	return &FileReadTool{logger: logger}
}

func (t *FileReadTool) Name() string { return "file_read" }
func (t *FileReadTool) Description() string {
	return "Read a text file from the workspace. Paths are relative to the workspace root."
}

func (t *FileReadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace"}
			},
			"required": ["path"]
		}`),
	}
}

type fileReadParams struct {
	Path string `json:"path"`
}

func (t *FileReadTool) Execute(_ context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p fileReadParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	resolved, err := resolveWorkspacePath(tc.WorkspaceDir, p.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p.Path)
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("file too large: %d bytes (limit %d)", info.Size(), maxReadBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	t.logger.Debug("file read", "user_id", tc.UserID, "path", p.Path, "size", len(data))
	return &domain.ToolResult{Content: string(data)}, nil
}

// FileWriteTool writes files within the per-user workspace, creating parent
// directories as needed.
type FileWriteTool struct {
	logger *slog.Logger
}

// NewFileWriteTool creates a file_write tool.
func NewFileWriteTool(logger *slog.Logger) *FileWriteTool {
	return &FileWriteTool{logger: logger}
}

func (t *FileWriteTool) Name() string { return "file_write" }
func (t *FileWriteTool) Description() string {
	return "Write a text file into the workspace. Paths are relative to the workspace root."
}

func (t *FileWriteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace"},
				"content": {"type": "string", "description": "Content to write"}
			},
			"required": ["path", "content"]
		}`),
	}
}

type fileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FileWriteTool) Execute(_ context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p fileWriteParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	resolved, err := resolveWorkspacePath(tc.WorkspaceDir, p.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	t.logger.Debug("file write", "user_id", tc.UserID, "path", p.Path, "size", len(p.Content))
	return &domain.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path)}, nil
}
