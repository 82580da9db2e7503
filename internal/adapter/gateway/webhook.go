package gateway

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gracebot/internal/domain"
	"gracebot/internal/infra/config"
	"gracebot/internal/usecase"
)

// eventCacheTTL is how long processed event ids are remembered; Feishu
// retries webhook delivery for up to a few minutes.
const eventCacheTTL = 5 * time.Minute

// Enqueuer accepts agent tasks from the webhook.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.AgentTask) error
}

// Webhook handles Feishu event callbacks: challenge echo, decryption,
// token verification, retry dedup, normalization, and dispatch into the
// task queue.
type Webhook struct {
	verificationToken string
	encryptKey        string
	sessions          *usecase.SessionManager
	queue             Enqueuer
	hooks             *usecase.HookBus
	logger            *slog.Logger
	now               func() time.Time

	mu     sync.Mutex
	events map[string]time.Time // event id → first seen
}

// NewWebhook creates a webhook handler.
func NewWebhook(cfg config.FeishuConfig, sessions *usecase.SessionManager, queue Enqueuer, hooks *usecase.HookBus, logger *slog.Logger) *Webhook {
	return &Webhook{
		verificationToken: cfg.VerificationToken,
		encryptKey:        cfg.EncryptKey,
		sessions:          sessions,
		queue:             queue,
		hooks:             hooks,
		logger:            logger,
		now:               time.Now,
		events:            make(map[string]time.Time),
	}
}

type eventEnvelope struct {
	// Plaintext url_verification fields.
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	// Encrypted payloads carry only this field.
	Encrypt string `json:"encrypt"`

	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

// ServeHTTP implements the POST /webhook/event endpoint.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var envelope eventEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&envelope); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if envelope.Encrypt != "" {
		plain, err := decryptEvent(h.encryptKey, envelope.Encrypt)
		if err != nil {
			h.logger.Warn("event decryption failed", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		envelope = eventEnvelope{}
		if err := json.Unmarshal(plain, &envelope); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	// First-time callback configuration handshake.
	if envelope.Type == "url_verification" {
		if !h.tokenValid(envelope.Token) {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		writeJSON(w, map[string]string{"challenge": envelope.Challenge})
		return
	}

	if !h.tokenValid(envelope.Header.Token) {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	// Feishu retries deliveries; an already-seen event id is acknowledged
	// without reprocessing.
	if envelope.Header.EventID != "" && h.seen(envelope.Header.EventID) {
		h.logger.Debug("duplicate event, skipping", "event_id", envelope.Header.EventID)
		writeJSON(w, map[string]bool{"ok": true})
		return
	}

	if msg := normalizeEvent(envelope.Event, h.now().UnixMilli()); msg != nil {
		if err := h.dispatch(r.Context(), msg); err != nil {
			h.logger.Error("failed to dispatch message",
				"event_id", envelope.Header.EventID, "error", err)
		}
	}

	writeJSON(w, map[string]bool{"ok": true})
}

// dispatch runs the on-message hook, drops group messages that don't
// mention the bot, resolves the session, and enqueues the agent task.
func (h *Webhook) dispatch(ctx context.Context, msg *domain.UnifiedMessage) error {
	h.logger.Info("dispatching message",
		"user_id", msg.UserID, "chat_type", msg.ChatType, "message_id", msg.MessageID)

	if res := h.hooks.Emit(ctx, domain.HookOnMessage, &domain.MessageHookContext{Message: *msg}); res.Intercepted {
		return nil
	}

	// In group chats the bot only answers when mentioned.
	if msg.ChatType == domain.ChatGroup && !mentionsBot(msg.Mentions) {
		h.logger.Debug("group message without bot mention, skipping")
		return nil
	}

	session, err := h.sessions.GetOrCreate(ctx, msg.UserID, msg.ChatID, msg.ThreadRoot())
	if err != nil {
		return err
	}

	return h.queue.Enqueue(ctx, &domain.AgentTask{
		UserID:  msg.UserID,
		Message: *msg,
		Session: *session,
	})
}

func (h *Webhook) tokenValid(token string) bool {
	return h.verificationToken == "" || token == h.verificationToken
}

// seen records the event id and reports whether it was already present.
// Expired entries are swept on each call.
func (h *Webhook) seen(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for id, at := range h.events {
		if now.Sub(at) > eventCacheTTL {
			delete(h.events, id)
		}
	}

	if _, ok := h.events[eventID]; ok {
		return true
	}
	h.events[eventID] = now
	return false
}

func mentionsBot(mentions []domain.Mention) bool {
	for _, m := range mentions {
		if m.IsBot {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// decryptEvent decrypts a Feishu encrypted event: AES-256-CBC with
// key = SHA256(encryptKey) and the IV in the first block.
func decryptEvent(encryptKey, encoded string) ([]byte, error) {
	if encryptKey == "" {
		return nil, fmt.Errorf("received encrypted event but no encrypt key configured")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	// At least two blocks: the IV plus one ciphertext block. A bare IV
	// would decrypt to nothing and break the padding strip below.
	if len(data) <= aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a positive multiple of the block size", len(data))
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	// Strip PKCS#7 padding.
	padding := int(plain[len(plain)-1])
	if padding < 1 || padding > aes.BlockSize || padding > len(plain) {
		return nil, fmt.Errorf("invalid padding")
	}
	return plain[:len(plain)-padding], nil
}
