package llm

import (
	"errors"
	"strings"
	"testing"

	"gracebot/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"rate limit", 429, `{"error":{"message":"rate limit reached"}}`, domain.ErrRateLimit},
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, domain.ErrAuthInvalid},
		{"forbidden", 403, `{}`, domain.ErrAuthInvalid},
		{"payload too large", 413, `{}`, domain.ErrContextOverflow},
		{"overflow behind 400", 400, `{"error":{"message":"this model's maximum context length is 128000 tokens"}}`, domain.ErrContextOverflow},
		{"prompt too long 400", 400, `{"error":{"message":"prompt is too long: 210000 tokens"}}`, domain.ErrContextOverflow},
		{"server error", 500, `{}`, domain.ErrProviderUnavailable},
		{"overloaded", 529, `{"error":{"message":"Overloaded"}}`, domain.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("mapHTTPError(%d) = %v, want %v", tt.status, err, tt.sentinel)
			}
		})
	}
}

func TestMapHTTPErrorGenericBadRequestUntagged(t *testing.T) {
	err := mapHTTPError(400, []byte(`{"error":{"message":"invalid tool schema"}}`))
	if domain.IsRecoverable(err) {
		t.Errorf("generic 400 should not be recoverable: %v", err)
	}
	if !strings.Contains(err.Error(), "invalid tool schema") {
		t.Errorf("vendor message lost: %v", err)
	}
}

func TestMapHTTPErrorKeepsVendorMessage(t *testing.T) {
	err := mapHTTPError(429, []byte(`{"error":{"message":"quota exceeded for key"}}`))
	if !strings.Contains(err.Error(), "API error 429") {
		t.Errorf("missing status detail: %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded for key") {
		t.Errorf("missing vendor message: %v", err)
	}
}

func TestVendorMessageFallsBackToRawBody(t *testing.T) {
	if got := vendorMessage([]byte("not json")); got != "not json" {
		t.Errorf("vendorMessage = %q, want raw body", got)
	}
}
