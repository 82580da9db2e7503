package llm

import (
	"context"

	"gracebot/internal/domain"
)

// Default token ceiling for a single completion.
const defaultMaxTokens = 8192

// CompletionRequest is one normalized model call. Messages may include a
// system turn; each provider client renders it into its own wire format.
type CompletionRequest struct {
	Model    string
	Messages []domain.LLMMessage
	Tools    []domain.ToolSchema
}

// ProviderClient performs one completion against a vendor API using the
// given credential. Clients do not retry internally; retry and failover
// belong to the caller.
type ProviderClient interface {
	Complete(ctx context.Context, profile domain.AuthProfile, req CompletionRequest) (*domain.LLMResponse, error)
}
