package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"gracebot/internal/domain"
)

// Shared fakes for the package tests.

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// scriptedRouter returns queued responses/errors in order and records the
// recovery side effects the loop drives.
type scriptedRouter struct {
	mu        sync.Mutex
	script    []routerStep
	calls     [][]domain.LLMMessage
	rotations int
	failovers int
}

type routerStep struct {
	resp *domain.LLMResponse
	err  error
}

func (r *scriptedRouter) Call(_ context.Context, messages []domain.LLMMessage, _ domain.CallOptions) (*domain.LLMResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]domain.LLMMessage, len(messages))
	copy(copied, messages)
	r.calls = append(r.calls, copied)

	if len(r.script) == 0 {
		return &domain.LLMResponse{Text: "done", StopReason: domain.StopEndTurn}, nil
	}
	step := r.script[0]
	r.script = r.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (r *scriptedRouter) MarkCurrentKeyFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotations++
}

func (r *scriptedRouter) Failover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failovers++
}

func (r *scriptedRouter) CurrentModel() string { return "kimi-k2.5" }

var _ domain.ModelRouter = (*scriptedRouter)(nil)

// fakeTools is a scriptable tool executor.
type fakeTools struct {
	mu       sync.Mutex
	executed []string
	results  map[string]*domain.ToolResult
	errs     map[string]error
	schemas  []domain.ToolSchema
}

func newFakeTools(names ...string) *fakeTools {
	f := &fakeTools{
		results: make(map[string]*domain.ToolResult),
		errs:    make(map[string]error),
	}
	for _, n := range names {
		f.schemas = append(f.schemas, domain.ToolSchema{
			Name:        n,
			Description: n,
			InputSchema: json.RawMessage(`{"type":"object"}`),
		})
	}
	return f
}

func (f *fakeTools) Execute(_ context.Context, name string, _ json.RawMessage, _ domain.ToolContext) (*domain.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &domain.ToolResult{Content: "ok:" + name}, nil
}

func (f *fakeTools) ToLLMTools() []domain.ToolSchema { return f.schemas }

var _ domain.ToolExecutor = (*fakeTools)(nil)

// memStore is an in-memory SessionStore.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	history  map[string][]domain.HistoryMessage
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*domain.Session),
		history:  make(map[string][]domain.HistoryMessage),
	}
}

func (s *memStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (s *memStore) UpsertSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *memStore) History(_ context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HistoryMessage(nil), s.history[sessionID]...), nil
}

func (s *memStore) AppendHistory(_ context.Context, sessionID string, msgs ...domain.HistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], msgs...)
	return nil
}

func (s *memStore) DeleteIdleSessions(_ context.Context, lastActiveBefore int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.LastActiveAt < lastActiveBefore {
			delete(s.sessions, id)
			delete(s.history, id)
			n++
		}
	}
	return n, nil
}

var _ SessionStore = (*memStore)(nil)

func toolUseResponse(id, name, input string) *domain.LLMResponse {
	raw := json.RawMessage(input)
	return &domain.LLMResponse{
		StopReason: domain.StopToolUse,
		Content: []domain.ContentBlock{
			{Type: domain.BlockToolUse, ID: id, Name: name, Input: raw},
		},
		ToolCalls: []domain.ToolCall{{ID: id, Name: name, Input: raw}},
		Usage:     domain.Usage{Input: 10, Output: 5},
	}
}

func endTurn(text string) *domain.LLMResponse {
	return &domain.LLMResponse{
		Text:       text,
		StopReason: domain.StopEndTurn,
		Content:    []domain.ContentBlock{{Type: domain.BlockText, Text: text}},
		Usage:      domain.Usage{Input: 20, Output: 8},
	}
}

func testMessage(id, text string) domain.UnifiedMessage {
	return domain.UnifiedMessage{
		MessageID: id,
		UserID:    "u1",
		ChatID:    "c1",
		ChatType:  domain.ChatP2P,
		Text:      text,
		Timestamp: 1700000000000,
	}
}

func testAgentContext(msg domain.UnifiedMessage, tools []domain.ToolSchema) *domain.AgentContext {
	return &domain.AgentContext{
		UserID:    msg.UserID,
		Message:   msg,
		SessionID: "s1",
		Tools:     tools,
	}
}
