package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gracebot/internal/domain"
)

// ExecTool runs allowlisted shell commands inside the user workspace with a
// hard timeout and a sliding-window rate limit.
type ExecTool struct {
	allowed map[string]bool
	timeout time.Duration
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewExecTool creates an exec tool. Only the base names in allowed may run.
func NewExecTool(allowed []string, timeout time.Duration, limiter *RateLimiter, logger *slog.Logger) *ExecTool {
	m := make(map[string]bool, len(allowed))
	for _, cmd := range allowed {
		m[cmd] = true
	}
	return &ExecTool{allowed: m, timeout: timeout, limiter: limiter, logger: logger}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Execute an allowed shell command in the workspace and return its output."
}

func (t *ExecTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "The command to execute"},
				"args": {"type": "array", "items": {"type": "string"}, "description": "Command arguments"}
			},
			"required": ["command"]
		}`),
	}
}

type execParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (t *ExecTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p execParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	base := filepath.Base(p.Command)
	if !t.allowed[base] {
		return nil, fmt.Errorf("command %q not in allowlist", base)
	}
	if !t.limiter.Allow() {
		return nil, domain.NewDomainError("ExecTool.Execute", domain.ErrRateLimit,
			fmt.Sprintf("command rate limit reached for %q", base))
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.Command, p.Args...)
	cmd.Dir = tc.WorkspaceDir

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s\n%s", t.timeout, output)
	}
	if err != nil {
		t.logger.Debug("exec command failed", "user_id", tc.UserID, "command", base, "error", err)
		return nil, fmt.Errorf("command failed: %v\n%s", err, output)
	}

	t.logger.Debug("exec command completed", "user_id", tc.UserID, "command", base)
	return &domain.ToolResult{Content: output}, nil
}
