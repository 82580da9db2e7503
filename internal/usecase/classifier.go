package usecase

import (
	"errors"
	"strings"

	"gracebot/internal/domain"
)

// RecoveryAction is what the agent loop should do about a failed model call.
type RecoveryAction int

const (
	RecoveryNone      RecoveryAction = iota // not recoverable, propagate
	RecoveryCompact                         // context overflow: compact history, retry
	RecoveryRotateKey                       // rate limit: cool down credential, retry
	RecoveryFailover                        // provider down: next fallback model, retry
)

func (a RecoveryAction) String() string {
	switch a {
	case RecoveryCompact:
		return "compact"
	case RecoveryRotateKey:
		return "rotate-key"
	case RecoveryFailover:
		return "failover"
	default:
		return "none"
	}
}

// ErrorClassifier maps a model-call error to a recovery action. Provider
// adapters tag errors with domain sentinels at origin, so classification is
// an errors.Is dispatch; the string patterns below only catch errors that
// arrived untagged (vendor SDKs, transport layers).
type ErrorClassifier struct{}

// NewErrorClassifier creates a classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify returns the recovery action for err.
func (c *ErrorClassifier) Classify(err error) RecoveryAction {
	if err == nil {
		return RecoveryNone
	}

	switch {
	case errors.Is(err, domain.ErrContextOverflow):
		return RecoveryCompact
	case errors.Is(err, domain.ErrRateLimit):
		return RecoveryRotateKey
	case errors.Is(err, domain.ErrProviderUnavailable):
		return RecoveryFailover
	}

	return c.classifyByString(strings.ToLower(err.Error()))
}

func (c *ErrorClassifier) classifyByString(lower string) RecoveryAction {
	for _, p := range []string{"context_length", "context length", "maximum context", "max_tokens", "prompt is too long"} {
		if strings.Contains(lower, p) {
			return RecoveryCompact
		}
	}
	for _, p := range []string{"rate_limit", "rate limit", "too many requests", "429"} {
		if strings.Contains(lower, p) {
			return RecoveryRotateKey
		}
	}
	for _, p := range []string{"overloaded", "503", "502", "bad gateway", "service unavailable"} {
		if strings.Contains(lower, p) {
			return RecoveryFailover
		}
	}
	return RecoveryNone
}
