package usecase

import (
	"context"
	"log/slog"

	"gracebot/internal/domain"
)

// agentFailedReply is sent when the agent run fails unrecoverably. The user
// gets a degraded answer, never silence.
const agentFailedReply = "[GraceBot] 处理消息时发生错误，请稍后再试。"

// ReplySender delivers the final answer back to the chat platform.
type ReplySender interface {
	SendReply(ctx context.Context, chatID, messageID, text string) error
}

// PersonaLoader reads the per-user persona and profile documents.
type PersonaLoader interface {
	Soul(ctx context.Context, userID string) (string, error)
	UserProfile(ctx context.Context, userID string) (string, error)
}

// SkillLoader collects the instruction blocks injected into the prompt.
type SkillLoader interface {
	LoadForUser(ctx context.Context, userID string) ([]domain.Skill, error)
}

// MemorySearcher retrieves memories relevant to the inbound message.
type MemorySearcher interface {
	Search(ctx context.Context, userID, query string) ([]domain.MemoryEntry, error)
}

// Tasking executes one queued agent task end to end: assemble the agent
// context, run the agent, persist the exchange, send the reply.
type Tasking struct {
	sessions *SessionManager
	runner   *Runner
	tools    domain.ToolExecutor
	personas PersonaLoader
	skills   SkillLoader
	memories MemorySearcher
	hooks    domain.HookEmitter
	sender   ReplySender
	logger   *slog.Logger
}

// NewTasking creates the task executor.
func NewTasking(
	sessions *SessionManager,
	runner *Runner,
	tools domain.ToolExecutor,
	personas PersonaLoader,
	skills SkillLoader,
	memories MemorySearcher,
	hooks domain.HookEmitter,
	sender ReplySender,
	logger *slog.Logger,
) *Tasking {
	return &Tasking{
		sessions: sessions,
		runner:   runner,
		tools:    tools,
		personas: personas,
		skills:   skills,
		memories: memories,
		hooks:    hooks,
		sender:   sender,
		logger:   logger,
	}
}

// Execute runs one task. Agent failures degrade to a canned reply so the
// returned error reflects only delivery or persistence problems, which the
// queue may retry.
func (t *Tasking) Execute(ctx context.Context, task *domain.AgentTask) error {
	userID := task.UserID
	msg := task.Message

	t.logger.Info("executing task",
		"user_id", userID,
		"session_id", task.Session.ID,
		"message_id", msg.MessageID,
	)

	if res := t.hooks.Emit(ctx, domain.HookBeforeAgent, &domain.BeforeAgentHookContext{
		UserID:    userID,
		SessionID: task.Session.ID,
		Message:   msg,
	}); res.Intercepted {
		t.logger.Info("task intercepted before agent run",
			"user_id", userID,
			"message_id", msg.MessageID,
		)
		return nil
	}

	actx := t.buildContext(ctx, task)

	result, err := t.runner.Run(ctx, actx)
	if err != nil {
		t.logger.Error("agent execution failed",
			"user_id", userID,
			"message_id", msg.MessageID,
			"error", err,
			"code", domain.ErrorCodeOf(err),
		)
		t.hooks.Emit(ctx, domain.HookOnError, &domain.ErrorHookContext{Err: err, UserID: userID})
		result = &domain.AgentResult{Text: agentFailedReply}
	}

	if err := t.sessions.AppendExchange(ctx, task.Session.ID, msg, result); err != nil {
		return err
	}
	if err := t.sender.SendReply(ctx, msg.ChatID, msg.MessageID, result.Text); err != nil {
		return domain.WrapOp("Tasking.Execute", err)
	}

	t.logger.Info("task done",
		"user_id", userID,
		"message_id", msg.MessageID,
		"reply_len", len(result.Text),
		"tool_calls", len(result.ToolCalls),
	)

	t.hooks.Emit(ctx, domain.HookAfterAgent, &domain.AgentResultHookContext{
		UserID:  userID,
		Message: msg,
		Result:  result,
	})
	return nil
}

// buildContext assembles the agent context. Persona, skill, and memory
// loads are best-effort: a broken collaborator degrades the prompt, it does
// not block the reply.
func (t *Tasking) buildContext(ctx context.Context, task *domain.AgentTask) *domain.AgentContext {
	userID := task.UserID

	history, err := t.sessions.GetHistory(ctx, task.Session.ID)
	if err != nil {
		t.logger.Warn("loading history failed", "user_id", userID, "error", err)
	}

	soul, err := t.personas.Soul(ctx, userID)
	if err != nil {
		t.logger.Warn("loading soul failed", "user_id", userID, "error", err)
	}
	profile, err := t.personas.UserProfile(ctx, userID)
	if err != nil {
		t.logger.Warn("loading user profile failed", "user_id", userID, "error", err)
	}

	skills, err := t.skills.LoadForUser(ctx, userID)
	if err != nil {
		t.logger.Warn("loading skills failed", "user_id", userID, "error", err)
	}

	memories, err := t.memories.Search(ctx, userID, task.Message.Text)
	if err != nil {
		t.logger.Warn("memory search failed", "user_id", userID, "error", err)
	}

	return &domain.AgentContext{
		UserID:      userID,
		Message:     task.Message,
		SessionID:   task.Session.ID,
		History:     history,
		Soul:        soul,
		UserProfile: profile,
		Skills:      skills,
		Memories:    memories,
		Tools:       t.tools.ToLLMTools(),
	}
}
