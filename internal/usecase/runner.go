package usecase

import (
	"context"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"gracebot/internal/domain"
	"gracebot/internal/infra/tracer"
)

// Default agent loop bounds.
const (
	defaultMaxToolRounds   = 20
	defaultToolResultLimit = 8000
)

// toolLimitExceededReply is returned when the round budget runs out. The
// user always gets a response, never a hang.
const toolLimitExceededReply = "[GraceBot] 工具调用次数超过限制，已停止执行。"

// Runner drives the bounded tool-calling loop: call the model, execute any
// requested tools sequentially, feed results back, repeat until end_turn or
// the round budget is spent.
type Runner struct {
	prompts       *PromptBuilder
	router        domain.ModelRouter
	compactor     *Compactor
	tools         domain.ToolExecutor
	hooks         domain.HookEmitter
	classifier    *ErrorClassifier
	workspaceRoot string

	maxToolRounds   int
	toolResultLimit int
	logger          *slog.Logger
}

// RunnerOptions tunes the loop bounds. Zero values take defaults.
type RunnerOptions struct {
	MaxToolRounds   int
	ToolResultLimit int
}

// NewRunner creates an agent runner.
func NewRunner(
	prompts *PromptBuilder,
	router domain.ModelRouter,
	compactor *Compactor,
	tools domain.ToolExecutor,
	hooks domain.HookEmitter,
	workspaceRoot string,
	opts RunnerOptions,
	logger *slog.Logger,
) *Runner {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if opts.ToolResultLimit <= 0 {
		opts.ToolResultLimit = defaultToolResultLimit
	}
	return &Runner{
		prompts:         prompts,
		router:          router,
		compactor:       compactor,
		tools:           tools,
		hooks:           hooks,
		classifier:      NewErrorClassifier(),
		workspaceRoot:   workspaceRoot,
		maxToolRounds:   opts.MaxToolRounds,
		toolResultLimit: opts.ToolResultLimit,
		logger:          logger,
	}
}

// Run executes one agent task to completion.
func (r *Runner) Run(ctx context.Context, actx *domain.AgentContext) (*domain.AgentResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run",
		trace.WithAttributes(
			tracer.StringAttr("agent.user_id", actx.UserID),
			tracer.StringAttr("agent.message_id", actx.Message.MessageID),
		),
	)
	defer span.End()

	result, err := r.run(ctx, actx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

func (r *Runner) run(ctx context.Context, actx *domain.AgentContext) (*domain.AgentResult, error) {
	systemPrompt := r.prompts.Build(actx)
	messageID := actx.Message.MessageID

	r.logger.Info("agent run started",
		"message_id", messageID,
		"user_id", actx.UserID,
		"skills", len(actx.Skills),
		"tools", len(actx.Tools),
		"history", len(actx.History),
	)

	messages := make([]domain.LLMMessage, 0, len(actx.History)+2)
	messages = append(messages, domain.TextMessage(domain.RoleSystem, systemPrompt))
	for _, h := range actx.History {
		messages = append(messages, domain.TextMessage(h.Role, h.Content))
	}
	messages = append(messages, domain.TextMessage(domain.RoleUser, actx.Message.Text))

	var records []domain.ToolCallRecord
	var totalTokens domain.Usage

	var llmTools []domain.ToolSchema
	if len(actx.Tools) > 0 {
		llmTools = r.tools.ToLLMTools()
	}

	for round := 0; round < r.maxToolRounds; round++ {
		r.hooks.Emit(ctx, domain.HookBeforeLLMCall, &domain.LLMCallHookContext{Messages: messages, Round: round})

		resp, err := r.router.Call(ctx, messages, domain.CallOptions{Tools: llmTools})
		if err != nil {
			resp, messages, err = r.recover(ctx, err, messages, llmTools, messageID)
			if err != nil {
				return nil, err
			}
		}
		totalTokens.Add(resp.Usage)

		r.logger.Info("llm round completed",
			"message_id", messageID,
			"round", round,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.Input,
			"output_tokens", resp.Usage.Output,
		)

		switch resp.StopReason {
		case domain.StopToolUse:
			messages = append(messages, domain.LLMMessage{
				Role:             domain.RoleAssistant,
				Content:          resp.Content,
				ReasoningContent: resp.ReasoningContent,
			})
			results := r.executeTools(ctx, actx, resp.ToolCalls, &records, round)
			messages = append(messages, domain.LLMMessage{Role: domain.RoleUser, Content: results})

		default:
			// end_turn and max_tokens both terminate with whatever text the
			// model produced.
			r.logger.Info("agent run finished",
				"message_id", messageID,
				"tool_calls", len(records),
				"input_tokens", totalTokens.Input,
				"output_tokens", totalTokens.Output,
			)
			return &domain.AgentResult{
				Text:       resp.Text,
				ToolCalls:  records,
				TokensUsed: totalTokens,
			}, nil
		}
	}

	r.logger.Warn("agent reached max tool rounds",
		"message_id", messageID,
		"max_rounds", r.maxToolRounds,
	)
	return &domain.AgentResult{
		Text:       toolLimitExceededReply,
		ToolCalls:  records,
		TokensUsed: totalTokens,
	}, nil
}

// recover applies one corrective action for a failed model call and retries
// exactly once. A failing retry propagates as-is; there is no recursive
// recovery chaining within a round.
func (r *Runner) recover(ctx context.Context, callErr error, messages []domain.LLMMessage, tools []domain.ToolSchema, messageID string) (*domain.LLMResponse, []domain.LLMMessage, error) {
	action := r.classifier.Classify(callErr)

	switch action {
	case RecoveryCompact:
		r.logger.Warn("llm call failed, compacting and retrying",
			"message_id", messageID,
			"error", callErr,
		)
		messages = r.compactor.Compact(ctx, messages)
	case RecoveryRotateKey:
		r.logger.Warn("llm call failed, rotating key and retrying",
			"message_id", messageID,
			"error", callErr,
		)
		r.router.MarkCurrentKeyFailed()
	case RecoveryFailover:
		r.logger.Warn("llm call failed, failing over and retrying",
			"message_id", messageID,
			"error", callErr,
		)
		r.router.Failover()
	default:
		r.logger.Error("llm call failed, not recoverable",
			"message_id", messageID,
			"error", callErr,
		)
		return nil, messages, callErr
	}

	resp, err := r.router.Call(ctx, messages, domain.CallOptions{Tools: tools})
	if err != nil {
		return nil, messages, err
	}
	return resp, messages, nil
}

// executeTools dispatches the round's tool calls in strict sequential order
// and returns the tool_result blocks for the follow-up user message. Tool
// failures become textual results rather than aborting the round.
func (r *Runner) executeTools(ctx context.Context, actx *domain.AgentContext, calls []domain.ToolCall, records *[]domain.ToolCallRecord, round int) []domain.ContentBlock {
	results := make([]domain.ContentBlock, 0, len(calls))

	for _, call := range calls {
		tctx, toolSpan := tracer.StartSpan(ctx, "agent.tool",
			trace.WithAttributes(
				tracer.StringAttr("tool.name", call.Name),
				tracer.IntAttr("agent.round", round),
			),
		)

		result, err := r.tools.Execute(tctx, call.Name, call.Input, domain.ToolContext{
			UserID:       actx.UserID,
			WorkspaceDir: filepath.Join(r.workspaceRoot, actx.UserID, "workspace"),
			SessionID:    actx.SessionID,
			MessageID:    actx.Message.MessageID,
		})
		if err != nil {
			tracer.RecordError(toolSpan, err)
			r.logger.Error("tool execution failed",
				"message_id", actx.Message.MessageID,
				"tool", call.Name,
				"error", err,
			)
			result = &domain.ToolResult{Content: "[Tool error] " + err.Error(), IsError: true}
		} else {
			tracer.SetOK(toolSpan)
		}
		toolSpan.End()

		*records = append(*records, domain.ToolCallRecord{ToolCall: call, Result: *result})
		results = append(results, domain.ContentBlock{
			Type:      domain.BlockToolResult,
			ToolUseID: call.ID,
			Content:   truncateResult(result.Content, r.toolResultLimit),
		})

		r.hooks.Emit(ctx, domain.HookAfterToolCall, &domain.ToolCallHookContext{ToolCall: call, Result: *result})
	}

	return results
}

// truncateResult caps tool output before it re-enters the model context.
func truncateResult(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n...[truncated]"
}
