package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"gracebot/internal/domain"
	"gracebot/internal/infra/tracer"
)

const (
	anthropicVersion = "2023-06-01"
	anthropicBaseURL = "https://api.anthropic.com"
)

// AnthropicClient speaks the Anthropic Messages API.
type AnthropicClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(client *http.Client, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{client: client, logger: logger}
}

// Complete implements ProviderClient.
func (c *AnthropicClient) Complete(ctx context.Context, profile domain.AuthProfile, req CompletionRequest) (*domain.LLMResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", string(domain.ProviderAnthropic)),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	baseURL := strings.TrimRight(profile.Endpoint, "/")
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	// The Messages API takes the system prompt as a top-level field.
	var system string
	conversation := make([]domain.LLMMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if system == "" {
				system = m.Text()
			}
			continue
		}
		conversation = append(conversation, m)
	}

	wire := anthropicRequest{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  toAnthropicMessages(conversation),
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         profile.APIKey,
		"anthropic-version": anthropicVersion,
	}

	respBody, err := doJSONRequest(ctx, c.client, baseURL+"/v1/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromAnthropicResponse(antResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	c.logger.Debug("llm completion",
		"provider", domain.ProviderAnthropic,
		"model", req.Model,
		"stop_reason", result.StopReason,
		"tool_calls", len(result.ToolCalls),
		"input_tokens", result.Usage.Input,
		"output_tokens", result.Usage.Output,
	)
	return result, nil
}

// --- Anthropic wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func toAnthropicMessages(messages []domain.LLMMessage) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		var content []anthropicContent
		for _, b := range m.Content {
			switch b.Type {
			case domain.BlockText:
				if b.Text != "" {
					content = append(content, anthropicContent{Type: domain.BlockText, Text: b.Text})
				}
			case domain.BlockToolUse:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				content = append(content, anthropicContent{
					Type:  domain.BlockToolUse,
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				})
			case domain.BlockToolResult:
				content = append(content, anthropicContent{
					Type:      domain.BlockToolResult,
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
				})
			}
		}
		if len(content) == 0 {
			content = []anthropicContent{{Type: domain.BlockText, Text: ""}}
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: content})
	}
	return out
}

func fromAnthropicResponse(resp anthropicResponse) *domain.LLMResponse {
	result := &domain.LLMResponse{
		StopReason: domain.StopEndTurn,
		Usage: domain.Usage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
		},
	}

	switch resp.StopReason {
	case "tool_use":
		result.StopReason = domain.StopToolUse
	case "max_tokens":
		result.StopReason = domain.StopMaxTokens
	}

	for _, b := range resp.Content {
		switch b.Type {
		case domain.BlockText:
			if result.Text == "" {
				result.Text = b.Text
			}
			result.Content = append(result.Content, domain.ContentBlock{Type: domain.BlockText, Text: b.Text})
		case domain.BlockToolUse:
			result.Content = append(result.Content, domain.ContentBlock{
				Type:  domain.BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
			result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}

	return result
}

var _ ProviderClient = (*AnthropicClient)(nil)
