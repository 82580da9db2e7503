package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gracebot/internal/domain"
)

const maxRedirects = 5

// WebFetchTool fetches content from http(s) URLs with a body size cap.
type WebFetchTool struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewWebFetchTool creates a web_fetch tool.
func NewWebFetchTool(maxBytes int64, logger *slog.Logger) *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return validateFetchURL(req.URL.String())
			},
		},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch content from an http(s) URL" }

func (t *WebFetchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to fetch"},
				"method": {"type": "string", "enum": ["GET", "HEAD"], "description": "HTTP method (default GET)"}
			},
			"required": ["url"]
		}`),
	}
}

type webFetchParams struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, tc domain.ToolContext) (*domain.ToolResult, error) {
	var p webFetchParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	if err := validateFetchURL(p.URL); err != nil {
		return nil, err
	}

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("invalid HTTP method %q (only GET and HEAD allowed)", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	t.logger.Debug("web fetch completed", "url", p.URL, "status", resp.StatusCode, "size", len(body))
	return &domain.ToolResult{Content: fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, string(body))}, nil
}

// validateFetchURL accepts only absolute http(s) URLs with a host.
func validateFetchURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
