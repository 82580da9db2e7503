package domain

import (
	"context"
	"strings"
)

// Provider identifies an LLM vendor.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderKimi       Provider = "kimi"
	ProviderVolcengine Provider = "volcengine"
)

// AuthProfile is a named credential bound to exactly one provider. Profiles
// are loaded once from configuration; the only mutation afterwards is a
// router-side cooldown, never deletion.
type AuthProfile struct {
	Name     string   `json:"name"     yaml:"name"`
	Provider Provider `json:"provider" yaml:"provider"`
	APIKey   string   `json:"api_key"  yaml:"api_key"`
	Endpoint string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// CallOptions tunes a single model call. Zero values mean "the router's
// current model, no tools".
type CallOptions struct {
	Model string
	Tools []ToolSchema
}

// ModelRouter selects a healthy credential for the desired model, performs
// the call, and exposes the failure side effects the agent loop drives
// during recovery.
type ModelRouter interface {
	Call(ctx context.Context, messages []LLMMessage, opts CallOptions) (*LLMResponse, error)
	MarkCurrentKeyFailed()
	Failover()
	CurrentModel() string
}

// InferProvider maps a model name to its provider by lexical prefix,
// the naming convention each vendor uses. Returns "" when unknown.
func InferProvider(model string) Provider {
	switch {
	case strings.HasPrefix(model, "kimi-"):
		return ProviderKimi
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "doubao-"), strings.HasPrefix(model, "ep-"):
		return ProviderVolcengine
	default:
		return ""
	}
}
