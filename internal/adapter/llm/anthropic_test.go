package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gracebot/internal/domain"
)

func anthropicProfile(endpoint string) domain.AuthProfile {
	return domain.AuthProfile{
		Name:     "claude-main",
		Provider: domain.ProviderAnthropic,
		APIKey:   "test-key",
		Endpoint: endpoint,
	}
}

func TestAnthropicCompleteRequestShape(t *testing.T) {
	var captured anthropicRequest
	var gotKey, gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []anthropicContent{{Type: "text", Text: "hello"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.Client(), discardLogger())
	messages := []domain.LLMMessage{
		domain.TextMessage(domain.RoleSystem, "you are helpful"),
		domain.TextMessage(domain.RoleUser, "hi"),
	}
	resp, err := c.Complete(context.Background(), anthropicProfile(srv.URL), CompletionRequest{
		Model:    "claude-sonnet-4",
		Messages: messages,
		Tools: []domain.ToolSchema{
			{Name: "file_read", Description: "read a file", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if captured.System != "you are helpful" {
		t.Errorf("system = %q, want extracted from system message", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != domain.RoleUser {
		t.Errorf("messages = %+v, want one user turn", captured.Messages)
	}
	if captured.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", captured.MaxTokens, defaultMaxTokens)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Name != "file_read" {
		t.Errorf("tools = %+v", captured.Tools)
	}
	if resp.Text != "hello" || resp.StopReason != domain.StopEndTurn {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropicCompleteParsesToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"content": [
				{"type":"text","text":"checking"},
				{"type":"tool_use","id":"tu_1","name":"exec","input":{"command":"ls"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.Client(), discardLogger())
	resp, err := c.Complete(context.Background(), anthropicProfile(srv.URL), CompletionRequest{
		Model:    "claude-sonnet-4",
		Messages: []domain.LLMMessage{domain.TextMessage(domain.RoleUser, "list files")},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.StopReason != domain.StopToolUse {
		t.Errorf("stop reason = %v, want tool_use", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "tu_1" || tc.Name != "exec" {
		t.Errorf("tool call = %+v", tc)
	}
	var input map[string]string
	if err := json.Unmarshal(tc.Input, &input); err != nil || input["command"] != "ls" {
		t.Errorf("input = %s", tc.Input)
	}
	if resp.Usage.Input != 120 || resp.Usage.Output != 30 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicToolResultRendering(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"done"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.Client(), discardLogger())
	messages := []domain.LLMMessage{
		{Role: domain.RoleAssistant, Content: []domain.ContentBlock{
			{Type: domain.BlockToolUse, ID: "tu_1", Name: "exec", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: domain.RoleUser, Content: []domain.ContentBlock{
			{Type: domain.BlockToolResult, ToolUseID: "tu_1", Content: "file.txt"},
		}},
	}
	if _, err := c.Complete(context.Background(), anthropicProfile(srv.URL), CompletionRequest{Model: "claude-sonnet-4", Messages: messages}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(captured.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(captured.Messages))
	}
	toolUse := captured.Messages[0].Content[0]
	if toolUse.Type != "tool_use" || toolUse.ID != "tu_1" {
		t.Errorf("assistant content = %+v", toolUse)
	}
	toolResult := captured.Messages[1].Content[0]
	if toolResult.Type != "tool_result" || toolResult.ToolUseID != "tu_1" || toolResult.Content != "file.txt" {
		t.Errorf("tool result = %+v", toolResult)
	}
}

func TestAnthropicCompleteTagsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.Client(), discardLogger())
	_, err := c.Complete(context.Background(), anthropicProfile(srv.URL), CompletionRequest{
		Model:    "claude-sonnet-4",
		Messages: []domain.LLMMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if domain.ErrorCodeOf(err) != domain.CodeRateLimit {
		t.Errorf("error = %v, want rate limit tag", err)
	}
}
