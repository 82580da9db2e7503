package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gracebot/internal/domain"
)

const reflectionPrompt = `You are a skill optimization assistant. Analyze the recent conversations and current skill definitions; decide if any skill needs improvement.
Rules:
- Only suggest changes that are clearly supported by the recent conversation patterns.
- Keep skill content concise, actionable, and in English.
- Respond with JSON only:
{ "suggestions": [{ "skillName": "xxx", "action": "update|create", "content": "full new skill content in English" }] }
If no changes are needed, respond with: { "suggestions": [] }`

// reflectionInterval is how many exchanges a user accumulates between
// skill reflections.
const reflectionInterval = 10

// HistorySource provides recent conversation turns for reflection.
type HistorySource interface {
	GetHistory(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)
}

type skillSuggestion struct {
	SkillName string `json:"skillName"`
	Action    string `json:"action"` // "update" or "create"
	Content   string `json:"content"`
}

// Updater periodically reflects over recent conversations and rewrites
// skill files. All failures are logged and swallowed.
type Updater struct {
	router          domain.ModelRouter
	loader          *Loader
	history         HistorySource
	reflectionModel string
	logger          *slog.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewUpdater creates a skill updater.
func NewUpdater(router domain.ModelRouter, loader *Loader, history HistorySource, reflectionModel string, logger *slog.Logger) *Updater {
	return &Updater{
		router:          router,
		loader:          loader,
		history:         history,
		reflectionModel: reflectionModel,
		logger:          logger,
		counts:          make(map[string]int),
	}
}

// ReflectAndUpdate counts one completed exchange for the user and runs a
// reflection every tenth one.
func (u *Updater) ReflectAndUpdate(ctx context.Context, userID, sessionID string) {
	u.mu.Lock()
	u.counts[userID]++
	count := u.counts[userID]
	u.mu.Unlock()

	if count%reflectionInterval != 0 {
		return
	}
	u.logger.Info("triggering skill reflection", "user_id", userID, "count", count)

	skills, err := u.loader.LoadForUser(ctx, userID)
	if err != nil {
		u.logger.Warn("skill load failed, skipping reflection", "user_id", userID, "error", err)
		return
	}

	var recent []domain.HistoryMessage
	if history, err := u.history.GetHistory(ctx, sessionID); err != nil {
		u.logger.Warn("could not load history for skill reflection", "user_id", userID, "error", err)
	} else if len(history) > reflectionInterval {
		recent = history[len(history)-reflectionInterval:]
	} else {
		recent = history
	}

	payload, err := json.Marshal(map[string]any{
		"currentSkills":      skills,
		"recentConversation": recent,
	})
	if err != nil {
		u.logger.Warn("reflection payload marshal failed", "error", err)
		return
	}

	resp, err := u.router.Call(ctx, []domain.LLMMessage{
		domain.TextMessage(domain.RoleSystem, reflectionPrompt),
		domain.TextMessage(domain.RoleUser, string(payload)),
	}, domain.CallOptions{Model: u.reflectionModel})
	if err != nil {
		u.logger.Warn("skill reflection failed", "user_id", userID, "error", err)
		return
	}

	var parsed struct {
		Suggestions []skillSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return
	}

	for _, s := range parsed.Suggestions {
		if err := u.applySuggestion(userID, s); err != nil {
			u.logger.Warn("skill update failed", "user_id", userID, "skill", s.SkillName, "error", err)
			continue
		}
		u.logger.Info("skill updated", "user_id", userID, "skill", s.SkillName, "action", s.Action)
	}
	if len(parsed.Suggestions) > 0 {
		u.loader.Refresh()
	}
}

// applySuggestion writes the skill as <user>/skills/<name>/SKILL.md with a
// front-matter header when the model omitted one.
func (u *Updater) applySuggestion(userID string, s skillSuggestion) error {
	if s.SkillName == "" || strings.ContainsAny(s.SkillName, "/\\") {
		return fmt.Errorf("invalid skill name %q", s.SkillName)
	}

	content := s.Content
	if !strings.HasPrefix(content, "---") {
		content = fmt.Sprintf("---\nname: %s\ndescription: Auto-updated skill\n---\n\n%s", s.SkillName, content)
	}

	dir := filepath.Join(u.loader.dataDir, "users", userID, "skills", s.SkillName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write skill file: %w", err)
	}
	return nil
}
