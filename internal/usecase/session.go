package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"gracebot/internal/domain"
)

// SessionStore persists sessions and their flattened history.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpsertSession(ctx context.Context, s *domain.Session) error
	History(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)
	AppendHistory(ctx context.Context, sessionID string, msgs ...domain.HistoryMessage) error
	DeleteIdleSessions(ctx context.Context, lastActiveBefore int64) (int64, error)
}

// SessionID derives the stable session id for a conversation thread. All
// turns sharing a (chatID, rootID) pair land in the same session; a thread
// never times out, it only ends when the user abandons it.
func SessionID(chatID, rootID string) string {
	sum := sha256.Sum256([]byte(chatID + "\x00" + rootID))
	return hex.EncodeToString(sum[:])[:24]
}

// SessionManager maps chat threads to sessions and owns history writes.
type SessionManager struct {
	store  SessionStore
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionManager creates a session manager over the given store.
func NewSessionManager(store SessionStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, now: time.Now, logger: logger}
}

// GetOrCreate returns the session for (userID, chatID, rootID), creating it
// on first contact and refreshing last-active otherwise.
func (m *SessionManager) GetOrCreate(ctx context.Context, userID, chatID, rootID string) (*domain.Session, error) {
	id := SessionID(chatID, rootID)
	nowMillis := m.now().UnixMilli()

	existing, err := m.store.GetSession(ctx, id)
	switch {
	case err == nil:
		existing.LastActiveAt = nowMillis
		if err := m.store.UpsertSession(ctx, existing); err != nil {
			return nil, domain.WrapOp("SessionManager.GetOrCreate", err)
		}
		return existing, nil
	case errors.Is(err, domain.ErrSessionNotFound):
		// fall through to create
	default:
		return nil, domain.WrapOp("SessionManager.GetOrCreate", err)
	}

	session := &domain.Session{
		ID:           id,
		UserID:       userID,
		ChatID:       chatID,
		RootID:       rootID,
		CreatedAt:    nowMillis,
		LastActiveAt: nowMillis,
	}
	if err := m.store.UpsertSession(ctx, session); err != nil {
		return nil, domain.WrapOp("SessionManager.GetOrCreate", err)
	}

	m.logger.Info("new session created",
		"user_id", userID,
		"session_id", id,
		"chat_id", chatID,
		"root_id", rootID,
	)
	return session, nil
}

// GetHistory returns the session's flattened history, oldest first.
func (m *SessionManager) GetHistory(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	history, err := m.store.History(ctx, sessionID)
	if err != nil {
		return nil, domain.WrapOp("SessionManager.GetHistory", err)
	}
	return history, nil
}

// AppendExchange records one completed user/assistant exchange.
func (m *SessionManager) AppendExchange(ctx context.Context, sessionID string, msg domain.UnifiedMessage, result *domain.AgentResult) error {
	err := m.store.AppendHistory(ctx, sessionID,
		domain.HistoryMessage{Role: domain.RoleUser, Content: msg.Text, Timestamp: msg.Timestamp},
		domain.HistoryMessage{Role: domain.RoleAssistant, Content: result.Text, Timestamp: m.now().UnixMilli()},
	)
	return domain.WrapOp("SessionManager.AppendExchange", err)
}

// ReapIdle deletes sessions idle longer than maxIdle, returning the count.
func (m *SessionManager) ReapIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := m.now().Add(-maxIdle).UnixMilli()
	n, err := m.store.DeleteIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, domain.WrapOp("SessionManager.ReapIdle", err)
	}
	if n > 0 {
		m.logger.Info("reaped idle sessions", "count", n)
	}
	return n, nil
}
