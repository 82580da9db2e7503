package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"gracebot/internal/domain"
	"gracebot/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a JSON POST request and returns the response body.
// It handles: create request, set headers, execute, read body (with limit),
// and check HTTP status code. Returns a tagged domain error for non-200
// responses.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// vendorErrorBody is the common error envelope shared by the supported
// vendor APIs.
type vendorErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// vendorMessage extracts the vendor-supplied error message from a response
// body, falling back to the raw body when the envelope does not parse.
func vendorMessage(body []byte) string {
	var envelope vendorErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}

// contextOverflowHints are vendor message fragments that signal a context
// window overflow hidden behind a generic 400.
var contextOverflowHints = []string{
	"context_length",
	"context length",
	"maximum context",
	"prompt is too long",
	"max_tokens",
	"too many tokens",
}

// mapHTTPError maps an HTTP status code plus response body to a tagged
// domain error. Tagging at the origin lets the agent loop dispatch recovery
// on errors.Is instead of re-parsing message text downstream.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, vendorMessage(body))

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge: // 413
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest:
		lower := strings.ToLower(detail)
		for _, hint := range contextOverflowHints {
			if strings.Contains(lower, hint) {
				return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
			}
		}
		return fmt.Errorf("%s", detail)
	case statusCode >= 500: // 500, 502, 503, 529, etc.
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.input_tokens", usage.Input),
		tracer.IntAttr("llm.output_tokens", usage.Output),
	)
}

// Default connection pool settings for LLM API usage patterns:
// few hosts, moderate concurrency, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with a pooled transport and timeout
// defaults suitable for LLM providers. Shared by all provider clients to
// avoid duplicating transport setup.
func NewHTTPClient(connTimeout, respTimeout time.Duration) *http.Client {
	if connTimeout == 0 {
		connTimeout = 30 * time.Second
	}
	if respTimeout == 0 {
		respTimeout = 120 * time.Second
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: respTimeout,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			ForceAttemptHTTP2:     true,
		},
		Timeout: connTimeout + respTimeout,
	}
}
