package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gracebot/internal/domain"
)

const profileAnalysisPrompt = `You are a user profile analysis assistant. From the conversation below, extract new user traits (preferences, habits, background). Output only the new findings as Markdown list items. If nothing new, output exactly: "No new findings".`

const noNewFindings = "No new findings"

// ProfileUpdater appends newly observed user traits to USER.md after an
// exchange, using a cheap reflection model call. Failures are logged and
// swallowed; profile upkeep must never affect the reply path.
type ProfileUpdater struct {
	router          domain.ModelRouter
	reflectionModel string
	personas        *Personas
	logger          *slog.Logger
}

// NewProfileUpdater creates a profile updater.
func NewProfileUpdater(router domain.ModelRouter, reflectionModel string, personas *Personas, logger *slog.Logger) *ProfileUpdater {
	return &ProfileUpdater{
		router:          router,
		reflectionModel: reflectionModel,
		personas:        personas,
		logger:          logger,
	}
}

// UpdateIfNeeded analyzes one exchange and appends findings to the profile.
func (u *ProfileUpdater) UpdateIfNeeded(ctx context.Context, userID string, msg domain.UnifiedMessage, result *domain.AgentResult) {
	current, err := u.personas.UserProfile(ctx, userID)
	if err != nil {
		u.logger.Warn("profile load failed, skipping update", "user_id", userID, "error", err)
		return
	}
	if current == "" {
		current = "# User profile\n"
	}

	prompt := fmt.Sprintf("Current user profile:\n%s\n\nRecent exchange:\nUser: %s\nAssistant: %s",
		current, msg.Text, result.Text)

	resp, err := u.router.Call(ctx, []domain.LLMMessage{
		domain.TextMessage(domain.RoleSystem, profileAnalysisPrompt),
		domain.TextMessage(domain.RoleUser, prompt),
	}, domain.CallOptions{Model: u.reflectionModel})
	if err != nil {
		u.logger.Warn("profile analysis failed, skipping", "user_id", userID, "error", err)
		return
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" || strings.Contains(text, noNewFindings) {
		return
	}

	path := u.personas.profilePath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		u.logger.Warn("profile dir create failed", "user_id", userID, "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(current+"\n"+text), 0o644); err != nil {
		u.logger.Warn("profile write failed", "user_id", userID, "error", err)
		return
	}
	u.logger.Info("user profile updated", "user_id", userID)
}
