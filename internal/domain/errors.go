package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Provider adapters tag errors with
// these at the point of origin (HTTP status, vendor error code) so callers
// dispatch on errors.Is instead of re-parsing message text.
var (
	// Resilience errors. The agent runner has a recovery action for each.
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")

	// Router errors.
	ErrNoHealthyProfile = fmt.Errorf("no healthy auth profile available")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")

	// Agent / tool errors.
	ErrToolNotFound  = fmt.Errorf("tool not found")
	ErrToolFailure   = fmt.Errorf("tool execution failed")
	ErrMaxToolRounds = fmt.Errorf("agent reached max tool rounds")

	// Session / queue errors.
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrDuplicateTask   = fmt.Errorf("duplicate task")

	// Memory errors.
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Router.Call")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRecoverable reports whether the agent runner has a corrective action
// for err (compaction, key rotation, or model failover).
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrContextOverflow) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrProviderUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeNoHealthyProfile    ErrorCode = "NO_HEALTHY_PROFILE"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure         ErrorCode = "TOOL_FAILURE"
	CodeMaxToolRounds       ErrorCode = "MAX_TOOL_ROUNDS"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeDuplicateTask       ErrorCode = "DUPLICATE_TASK"
	CodeEmbeddingFailed     ErrorCode = "EMBEDDING_FAILED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrContextOverflow:     CodeContextOverflow,
	ErrRateLimit:           CodeRateLimit,
	ErrProviderUnavailable: CodeProviderUnavailable,
	ErrNoHealthyProfile:    CodeNoHealthyProfile,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrToolNotFound:        CodeToolNotFound,
	ErrToolFailure:         CodeToolFailure,
	ErrMaxToolRounds:       CodeMaxToolRounds,
	ErrSessionNotFound:     CodeSessionNotFound,
	ErrDuplicateTask:       CodeDuplicateTask,
	ErrEmbeddingFailed:     CodeEmbeddingFailed,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the error chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
