// Package gateway bridges Feishu (Lark) chat to the agent core: inbound
// webhook events and outbound replies over the OpenAPI.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"gracebot/internal/infra/config"
)

const defaultBaseURL = "https://open.feishu.cn/open-apis"

// Feishu error code for a reply into a topic the user already deleted.
const codeTopicGone = 230019

// Circuit breaker settings for the outbound API.
const (
	cbMaxFailures uint32 = 5
	cbTimeout            = 30 * time.Second
	cbInterval           = 60 * time.Second
)

// Client talks to the Feishu OpenAPI with tenant-token caching. Outbound
// sends run through a circuit breaker so a Feishu outage fails fast
// instead of piling queue workers onto a dead endpoint.
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates a Feishu API client.
func NewClient(cfg config.FeishuConfig, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "feishu-api",
		MaxRequests: 1, // one probe in half-open state
		Interval:    cbInterval,
		Timeout:     cbTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cbMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		breaker:   breaker,
		logger:    logger,
		now:       time.Now,
	}
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// ensureToken returns a cached tenant access token, refreshing it one
// minute before expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch tenant token: %w", err)
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Code != 0 {
		return "", fmt.Errorf("tenant token request failed: status %d code %d: %s",
			resp.StatusCode, parsed.Code, parsed.Msg)
	}

	c.token = parsed.TenantAccessToken
	c.tokenExpiry = c.now().Add(time.Duration(parsed.Expire-60) * time.Second)
	c.logger.Info("feishu tenant access token refreshed")
	return c.token, nil
}

// SendReply replies inside the message's topic. When the topic no longer
// exists (230019) it degrades to a plain message into the chat.
func (c *Client) SendReply(ctx context.Context, chatID, messageID, text string) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.reply(ctx, chatID, messageID, text)
	})
	return err
}

func (c *Client) reply(ctx context.Context, chatID, messageID, text string) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	content, _ := json.Marshal(map[string]string{"text": text})
	body, _ := json.Marshal(map[string]string{
		"content":  string(content),
		"msg_type": "text",
	})

	url := fmt.Sprintf("%s/im/v1/messages/%s/reply", c.baseURL, messageID)
	status, respBody, err := c.post(ctx, url, token, body)
	if err != nil {
		return err
	}

	code := apiCode(respBody)
	if status == http.StatusOK && code == 0 {
		return nil
	}

	if code == codeTopicGone && chatID != "" {
		c.logger.Warn("topic no longer exists, sending to chat instead",
			"message_id", messageID, "chat_id", chatID)
		return c.sendMessage(ctx, token, chatID, text)
	}

	c.logger.Error("feishu reply failed",
		"message_id", messageID, "status", status, "body", string(respBody))
	return fmt.Errorf("feishu reply failed: status %d code %d", status, code)
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		token, tokenErr := c.ensureToken(ctx)
		if tokenErr != nil {
			return struct{}{}, tokenErr
		}
		return struct{}{}, c.sendMessage(ctx, token, chatID, text)
	})
	return err
}

func (c *Client) sendMessage(ctx context.Context, token, chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	body, _ := json.Marshal(map[string]string{
		"receive_id": chatID,
		"content":    string(content),
		"msg_type":   "text",
	})

	url := c.baseURL + "/im/v1/messages?receive_id_type=chat_id"
	status, respBody, err := c.post(ctx, url, token, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK || apiCode(respBody) != 0 {
		c.logger.Error("feishu send failed", "chat_id", chatID, "status", status, "body", string(respBody))
		return fmt.Errorf("feishu send failed: status %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// apiCode extracts the Feishu business error code, -1 when unparsable.
func apiCode(body []byte) int {
	var parsed struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Code == nil {
		return -1
	}
	return *parsed.Code
}
