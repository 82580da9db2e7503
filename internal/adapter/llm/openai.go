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

// Default base URLs for the OpenAI-compatible vendors.
var openAIBaseURLs = map[domain.Provider]string{
	domain.ProviderOpenAI:     "https://api.openai.com/v1",
	domain.ProviderKimi:       "https://api.moonshot.cn/v1",
	domain.ProviderVolcengine: "https://ark.cn-beijing.volces.com/api/v3",
}

// OpenAIClient speaks the OpenAI chat-completions wire format, which is
// shared by OpenAI, Kimi, and Volcengine. Vendor quirks are keyed off the
// profile's provider.
type OpenAIClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for OpenAI-compatible chat APIs.
func NewOpenAIClient(client *http.Client, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{client: client, logger: logger}
}

// Complete implements ProviderClient.
func (c *OpenAIClient) Complete(ctx context.Context, profile domain.AuthProfile, req CompletionRequest) (*domain.LLMResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", string(profile.Provider)),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	baseURL := strings.TrimRight(profile.Endpoint, "/")
	if baseURL == "" {
		if u, ok := openAIBaseURLs[profile.Provider]; ok {
			baseURL = u
		} else {
			baseURL = openAIBaseURLs[domain.ProviderOpenAI]
		}
	}

	wire := openAIRequest{
		Model:     req.Model,
		Messages:  toOpenAIMessages(req.Messages, profile.Provider),
		MaxTokens: defaultMaxTokens,
	}
	// Kimi K2.5 rejects any temperature other than 1.
	if profile.Provider == domain.ProviderKimi {
		one := 1.0
		wire.Temperature = &one
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openAITool{
			Type: "function",
			Function: openAIToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + profile.APIKey}

	respBody, err := doJSONRequest(ctx, c.client, baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaResp openAIResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromOpenAIResponse(oaResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	c.logger.Debug("llm completion",
		"provider", profile.Provider,
		"model", req.Model,
		"stop_reason", result.StopReason,
		"tool_calls", len(result.ToolCalls),
		"input_tokens", result.Usage.Input,
		"output_tokens", result.Usage.Output,
	)
	return result, nil
}

// --- OpenAI-compatible wire types ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role             string           `json:"role"`
	Content          *string          `json:"content"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
	ReasoningContent *string          `json:"reasoning_content,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string        `json:"type"`
	Function openAIToolDef `json:"function"`
}

type openAIToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          *string          `json:"content"`
			ToolCalls        []openAIToolCall `json:"tool_calls"`
			ReasoningContent *string          `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// toOpenAIMessages renders structured message blocks into the completions
// role vocabulary: tool results become dedicated "tool" turns keyed by
// tool_call_id, tool uses become assistant tool_calls.
func toOpenAIMessages(messages []domain.LLMMessage, provider domain.Provider) []openAIMessage {
	var out []openAIMessage
	for _, m := range messages {
		var (
			text        string
			toolUses    []domain.ContentBlock
			toolResults []domain.ContentBlock
		)
		for _, b := range m.Content {
			switch b.Type {
			case domain.BlockText:
				if text == "" {
					text = b.Text
				}
			case domain.BlockToolUse:
				toolUses = append(toolUses, b)
			case domain.BlockToolResult:
				toolResults = append(toolResults, b)
			}
		}

		switch {
		case m.Role == domain.RoleUser && len(toolResults) > 0:
			for _, r := range toolResults {
				content := r.Content
				out = append(out, openAIMessage{
					Role:       "tool",
					ToolCallID: r.ToolUseID,
					Content:    &content,
				})
			}
		case m.Role == domain.RoleAssistant && len(toolUses) > 0:
			msg := openAIMessage{Role: domain.RoleAssistant}
			if text != "" {
				msg.Content = &text
			}
			for _, u := range toolUses {
				args := string(u.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
					ID:   u.ID,
					Type: "function",
					Function: openAIFunction{
						Name:      u.Name,
						Arguments: args,
					},
				})
			}
			reasoning := m.ReasoningContent
			// Kimi's thinking models reject assistant tool_calls turns
			// without a non-empty reasoning_content.
			if provider == domain.ProviderKimi && strings.TrimSpace(reasoning) == "" {
				reasoning = " "
			}
			if reasoning != "" {
				msg.ReasoningContent = &reasoning
			}
			out = append(out, msg)
		default:
			content := text
			out = append(out, openAIMessage{Role: m.Role, Content: &content})
		}
	}
	return out
}

func fromOpenAIResponse(resp openAIResponse) *domain.LLMResponse {
	result := &domain.LLMResponse{
		StopReason: domain.StopEndTurn,
		Usage: domain.Usage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		return result
	}
	choice := resp.Choices[0]

	switch choice.FinishReason {
	case "tool_calls":
		result.StopReason = domain.StopToolUse
	case "length":
		result.StopReason = domain.StopMaxTokens
	}

	if choice.Message.Content != nil {
		result.Text = *choice.Message.Content
	}
	if choice.Message.ReasoningContent != nil {
		result.ReasoningContent = *choice.Message.ReasoningContent
	}
	if result.Text != "" {
		result.Content = append(result.Content, domain.ContentBlock{Type: domain.BlockText, Text: result.Text})
	}

	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) || len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		result.Content = append(result.Content, domain.ContentBlock{
			Type:  domain.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return result
}

var _ ProviderClient = (*OpenAIClient)(nil)
