// Package skill loads markdown skill definitions injected into the agent's
// system prompt, and updates them from conversation reflection.
package skill

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gracebot/internal/domain"
)

// Loader reads skills from the shared directory and per-user directories.
// A skill is either a flat <name>.md file or a <name>/SKILL.md directory.
// User skills override shared skills with the same name. Loads are cached
// per user until Refresh.
type Loader struct {
	dataDir string
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string][]domain.Skill
}

// NewLoader creates a skill loader rooted at dataDir.
func NewLoader(dataDir string, logger *slog.Logger) *Loader {
	return &Loader{
		dataDir: dataDir,
		logger:  logger,
		cache:   make(map[string][]domain.Skill),
	}
}

// LoadForUser returns the merged shared + user skill set.
func (l *Loader) LoadForUser(_ context.Context, userID string) ([]domain.Skill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache[userID]; ok {
		return cached, nil
	}

	shared := l.loadDir(filepath.Join(l.dataDir, "shared", "skills"), "global")
	user := l.loadDir(filepath.Join(l.dataDir, "users", userID, "skills"), "user")

	merged := make(map[string]domain.Skill, len(shared)+len(user))
	order := make([]string, 0, len(shared)+len(user))
	for _, s := range shared {
		if _, seen := merged[s.Name]; !seen {
			order = append(order, s.Name)
		}
		merged[s.Name] = s
	}
	for _, s := range user {
		if _, seen := merged[s.Name]; !seen {
			order = append(order, s.Name)
		}
		merged[s.Name] = s
	}

	skills := make([]domain.Skill, 0, len(order))
	for _, name := range order {
		skills = append(skills, merged[name])
	}

	l.cache[userID] = skills
	return skills, nil
}

// Refresh drops the cache so the next load re-reads from disk.
func (l *Loader) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string][]domain.Skill)
}

// loadDir reads every skill under dir. A missing directory is an empty
// skill set; an unreadable file is skipped with a warning.
func (l *Loader) loadDir(dir, source string) []domain.Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var skills []domain.Skill
	for _, entry := range entries {
		name, path := "", ""
		switch {
		case entry.IsDir():
			name = entry.Name()
			path = filepath.Join(dir, entry.Name(), "SKILL.md")
		case strings.HasSuffix(entry.Name(), ".md"):
			name = strings.TrimSuffix(entry.Name(), ".md")
			path = filepath.Join(dir, entry.Name())
		default:
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			if !entry.IsDir() || !os.IsNotExist(err) {
				l.logger.Warn("failed to load skill file", "path", path, "error", err)
			}
			continue
		}

		skills = append(skills, domain.Skill{
			Name:    name,
			Content: string(content),
			Source:  source,
		})
	}
	return skills
}
