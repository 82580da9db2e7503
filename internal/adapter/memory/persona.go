package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Personas loads the markdown persona files that shape the system prompt:
// SOUL.md for personality, USER.md for the accumulated user profile. A
// missing file is an empty persona, not an error.
type Personas struct {
	dataDir string
}

// NewPersonas creates a persona loader rooted at dataDir.
func NewPersonas(dataDir string) *Personas {
	return &Personas{dataDir: dataDir}
}

// Soul returns the user's SOUL.md, falling back to the shared one.
func (p *Personas) Soul(_ context.Context, userID string) (string, error) {
	text, err := readOptional(filepath.Join(p.dataDir, "users", userID, "SOUL.md"))
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	return readOptional(filepath.Join(p.dataDir, "shared", "SOUL.md"))
}

// UserProfile returns the user's USER.md.
func (p *Personas) UserProfile(_ context.Context, userID string) (string, error) {
	return readOptional(p.profilePath(userID))
}

func (p *Personas) profilePath(userID string) string {
	return filepath.Join(p.dataDir, "users", userID, "USER.md")
}

func readOptional(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}
