// Package memory stores per-user long-term memories with embedding-based
// retrieval, plus the persona files injected into the system prompt.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gracebot/internal/domain"
)

const defaultTopK = 5

// vectorEntry pairs a memory id with its embedding.
type vectorEntry struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// Manager reads and writes per-user memory entries. Entries and their
// vectors live in JSON files under <dataDir>/users/<id>/memory/.
type Manager struct {
	mu       sync.Mutex
	dataDir  string
	embedder domain.EmbeddingProvider
	now      func() time.Time
	logger   *slog.Logger
}

// NewManager creates a memory manager rooted at dataDir.
func NewManager(dataDir string, embedder domain.EmbeddingProvider, logger *slog.Logger) *Manager {
	return &Manager{
		dataDir:  dataDir,
		embedder: embedder,
		now:      time.Now,
		logger:   logger,
	}
}

// Write stores one memory entry and its embedding. The entry id is
// generated here.
func (m *Manager) Write(ctx context.Context, userID string, entry domain.MemoryEntry) (string, error) {
	entry.ID = ulid.MustNew(ulid.Timestamp(m.now()), rand.Reader).String()
	entry.UserID = userID
	if entry.CreatedAt == "" {
		entry.CreatedAt = m.now().UTC().Format(time.RFC3339)
	}

	vectors, err := m.embedder.Embed(ctx, []string{entry.Content})
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}
	if len(vectors) != 1 {
		return "", fmt.Errorf("embed memory: got %d vectors for one text", len(vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.loadEntries(userID)
	if err != nil {
		return "", err
	}
	entries = append(entries, entry)
	if err := m.saveJSON(m.entriesPath(userID), entries); err != nil {
		return "", err
	}

	vecs, err := m.loadVectors(userID)
	if err != nil {
		return "", err
	}
	vecs = append(vecs, vectorEntry{ID: entry.ID, Vector: vectors[0]})
	if err := m.saveJSON(m.vectorsPath(userID), vecs); err != nil {
		return "", err
	}

	m.logger.Info("memory saved", "user_id", userID, "memory_id", entry.ID, "category", entry.Category)
	return entry.ID, nil
}

// Search returns up to five entries most similar to the query. An
// embedding failure degrades to no results rather than failing the caller.
func (m *Manager) Search(ctx context.Context, userID, query string) ([]domain.MemoryEntry, error) {
	return m.SearchTopK(ctx, userID, query, defaultTopK)
}

// SearchTopK is Search with an explicit result budget.
func (m *Manager) SearchTopK(ctx context.Context, userID, query string, topK int) ([]domain.MemoryEntry, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	m.mu.Lock()
	vecs, err := m.loadVectors(userID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	entries, err := m.loadEntries(userID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	queryVecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil || len(queryVecs) != 1 {
		m.logger.Warn("query embedding failed, returning no memories", "user_id", userID, "error", err)
		return nil, nil
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(vecs))
	for _, v := range vecs {
		ranked = append(ranked, scored{id: v.ID, score: cosineSimilarity(queryVecs[0], v.Vector)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK > len(ranked) {
		topK = len(ranked)
	}
	keep := make(map[string]bool, topK)
	for _, s := range ranked[:topK] {
		keep[s.id] = true
	}

	var results []domain.MemoryEntry
	for _, e := range entries {
		if keep[e.ID] {
			results = append(results, e)
		}
	}
	return results, nil
}

func (m *Manager) entriesPath(userID string) string {
	return filepath.Join(m.dataDir, "users", userID, "memory", "entries.json")
}

func (m *Manager) vectorsPath(userID string) string {
	return filepath.Join(m.dataDir, "users", userID, "memory", "vectors.json")
}

func (m *Manager) loadEntries(userID string) ([]domain.MemoryEntry, error) {
	var entries []domain.MemoryEntry
	if err := loadJSON(m.entriesPath(userID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) loadVectors(userID string) ([]vectorEntry, error) {
	var vecs []vectorEntry
	if err := loadJSON(m.vectorsPath(userID), &vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func loadJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// saveJSON writes via temp file + rename so a crash never truncates a store.
func (m *Manager) saveJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
