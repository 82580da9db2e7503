package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"gracebot/internal/domain"
)

// compactionPrompt instructs the auxiliary model. All model-facing content
// is English regardless of the chat language.
const compactionPrompt = "You are a conversation compression assistant. " +
	"Compress the following conversation history into a concise summary in English. " +
	"Preserve key information, context, and user intent."

// compactionKeepTail is how many trailing messages survive verbatim.
const compactionKeepTail = 4

// Compactor shrinks a long message list by summarizing its middle with one
// auxiliary model call.
type Compactor struct {
	router domain.ModelRouter
	model  string
	logger *slog.Logger
}

// NewCompactor creates a compactor using the given model for summaries.
func NewCompactor(router domain.ModelRouter, model string, logger *slog.Logger) *Compactor {
	return &Compactor{router: router, model: model, logger: logger}
}

// Compact returns messages unchanged when there are 4 or fewer. Otherwise
// the first (system) message and the last 4 are kept verbatim and everything
// between is replaced by one synthetic user message carrying the summary.
// Summarization failure degrades to system + last 4; the error never
// propagates since compaction must not be worse than truncation.
func (c *Compactor) Compact(ctx context.Context, messages []domain.LLMMessage) []domain.LLMMessage {
	if len(messages) <= compactionKeepTail {
		return messages
	}

	system := messages[0]
	tail := messages[len(messages)-compactionKeepTail:]
	middle := messages[1 : len(messages)-compactionKeepTail]
	if len(middle) == 0 {
		return messages
	}

	c.logger.Info("compacting conversation history",
		"messages", len(messages),
		"summarized", len(middle),
	)

	summary, err := c.summarize(ctx, middle)
	if err != nil {
		c.logger.Error("compaction failed, dropping old messages instead", "error", err)
		out := make([]domain.LLMMessage, 0, 1+len(tail))
		out = append(out, system)
		return append(out, tail...)
	}

	out := make([]domain.LLMMessage, 0, 2+len(tail))
	out = append(out, system)
	out = append(out, domain.TextMessage(domain.RoleUser, "[Conversation summary]\n"+summary))
	return append(out, tail...)
}

func (c *Compactor) summarize(ctx context.Context, middle []domain.LLMMessage) (string, error) {
	var b strings.Builder
	for i, m := range middle {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]: %s", m.Role, renderForSummary(m))
	}

	resp, err := c.router.Call(ctx, []domain.LLMMessage{
		domain.TextMessage(domain.RoleSystem, compactionPrompt),
		domain.TextMessage(domain.RoleUser, b.String()),
	}, domain.CallOptions{Model: c.model})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// renderForSummary flattens a message body to text; structured bodies (tool
// uses, tool results) are rendered as JSON so nothing is silently lost.
func renderForSummary(m domain.LLMMessage) string {
	if len(m.Content) == 1 && m.Content[0].Type == domain.BlockText {
		return m.Content[0].Text
	}
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return m.Text()
	}
	return string(raw)
}
