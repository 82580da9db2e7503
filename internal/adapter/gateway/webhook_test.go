package gateway

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gracebot/internal/domain"
	"gracebot/internal/infra/config"
	"gracebot/internal/usecase"
)

// memSessionStore is a minimal in-memory SessionStore for webhook tests.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *memSessionStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *memSessionStore) UpsertSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memSessionStore) History(context.Context, string) ([]domain.HistoryMessage, error) {
	return nil, nil
}

func (s *memSessionStore) AppendHistory(context.Context, string, ...domain.HistoryMessage) error {
	return nil
}

func (s *memSessionStore) DeleteIdleSessions(context.Context, int64) (int64, error) {
	return 0, nil
}

// recordingQueue captures enqueued tasks.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*domain.AgentTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task *domain.AgentTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type webhookFixture struct {
	webhook *Webhook
	queue   *recordingQueue
	hooks   *usecase.HookBus
}

func newWebhookFixture(t *testing.T, cfg config.FeishuConfig) *webhookFixture {
	t.Helper()
	queue := &recordingQueue{}
	hooks := usecase.NewHookBus(discardLogger())
	sessions := usecase.NewSessionManager(newMemSessionStore(), discardLogger())
	return &webhookFixture{
		webhook: NewWebhook(cfg, sessions, queue, hooks, discardLogger()),
		queue:   queue,
		hooks:   hooks,
	}
}

func (f *webhookFixture) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/event", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	f.webhook.ServeHTTP(rec, req)
	return rec
}

func messageEvent(eventID, messageID, chatType, text string, mentions ...map[string]any) map[string]any {
	content, _ := json.Marshal(map[string]string{"text": text})
	message := map[string]any{
		"message_id": messageID,
		"chat_id":    "c1",
		"chat_type":  chatType,
		"content":    string(content),
	}
	if len(mentions) > 0 {
		message["mentions"] = mentions
	}
	return map[string]any{
		"header": map[string]any{
			"event_id":   eventID,
			"event_type": "im.message.receive_v1",
			"token":      "vtoken",
		},
		"event": map[string]any{
			"sender":  map[string]any{"sender_id": map[string]any{"open_id": "u1"}},
			"message": message,
		},
	}
}

func TestURLVerificationEcho(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	rec := f.post(t, map[string]any{
		"type":      "url_verification",
		"challenge": "c-abc",
		"token":     "vtoken",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-abc", resp["challenge"])
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	rec := f.post(t, map[string]any{
		"type":      "url_verification",
		"challenge": "c-abc",
		"token":     "wrong",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestP2PMessageEnqueued(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	rec := f.post(t, messageEvent("e1", "m1", "p2p", "hello bot"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.queue.count())

	task := f.queue.tasks[0]
	assert.Equal(t, "u1", task.UserID)
	assert.Equal(t, "hello bot", task.Message.Text)
	assert.NotEmpty(t, task.Session.ID)
	assert.Equal(t, usecase.SessionID("c1", "m1"), task.Session.ID)
}

func TestDuplicateEventDroppedOnce(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	for i := 0; i < 3; i++ {
		rec := f.post(t, messageEvent("e1", "m1", "p2p", "hi"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, f.queue.count(), "retried deliveries must not re-enqueue")
}

func TestGroupMessageRequiresBotMention(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	f.post(t, messageEvent("e1", "m1", "group", "chatter"))
	assert.Equal(t, 0, f.queue.count(), "unmentioned group message must be ignored")

	f.post(t, messageEvent("e2", "m2", "group", "@bot do it",
		map[string]any{"key": "@_user_1", "name": "GraceBot", "tenant_key": "tk"}))
	assert.Equal(t, 1, f.queue.count())
}

func TestOnMessageHookCanIntercept(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})
	f.hooks.On(domain.HookOnMessage, func(context.Context, any) (domain.HookResult, error) {
		return domain.HookResult{Intercepted: true}, nil
	})

	f.post(t, messageEvent("e1", "m1", "p2p", "hi"))
	assert.Equal(t, 0, f.queue.count())
}

func TestEncryptedEventDecrypted(t *testing.T) {
	const key = "secret-key"
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken", EncryptKey: key})

	plain, err := json.Marshal(messageEvent("e1", "m1", "p2p", "hidden hello"))
	require.NoError(t, err)

	rec := f.post(t, map[string]string{"encrypt": encryptEvent(t, key, plain)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.queue.count())
	assert.Equal(t, "hidden hello", f.queue.tasks[0].Message.Text)
}

func TestMalformedCiphertextRejected(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{EncryptKey: "secret-key"})
	rec := f.post(t, map[string]string{"encrypt": base64.StdEncoding.EncodeToString([]byte("short"))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSingleBlockCiphertextRejected(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{EncryptKey: "secret-key"})

	// Exactly one block is just an IV with no ciphertext behind it; it must
	// be a 400, not a panic in the padding strip.
	rec := f.post(t, map[string]string{"encrypt": base64.StdEncoding.EncodeToString(make([]byte, aes.BlockSize))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.queue.count())
}

func TestThreadReplySharesSession(t *testing.T) {
	f := newWebhookFixture(t, config.FeishuConfig{VerificationToken: "vtoken"})

	f.post(t, messageEvent("e1", "m1", "p2p", "first"))

	reply := messageEvent("e2", "m2", "p2p", "followup")
	reply["event"].(map[string]any)["message"].(map[string]any)["root_id"] = "m1"
	f.post(t, reply)

	require.Equal(t, 2, f.queue.count())
	assert.Equal(t, f.queue.tasks[0].Session.ID, f.queue.tasks[1].Session.ID,
		"thread replies must share the root session")
}

// encryptEvent mirrors Feishu's AES-256-CBC event encryption for tests.
func encryptEvent(t *testing.T, encryptKey string, plain []byte) string {
	t.Helper()

	sum := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(sum[:])
	require.NoError(t, err)

	padding := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padding)}, padding)...)

	iv := make([]byte, aes.BlockSize)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(append(iv, out...))
}
