package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gracebot/internal/domain"
	"gracebot/internal/usecase"
)

var _ usecase.MemorySearcher = (*Manager)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// axisEmbedder maps known texts to fixed unit vectors so similarity
// ordering is deterministic.
type axisEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (e *axisEmbedder) Dimensions() int { return 3 }
func (e *axisEmbedder) Name() string    { return "axis" }

func newTestManager(t *testing.T, embedder domain.EmbeddingProvider) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), embedder, discardLogger())
}

func TestWriteAssignsIDAndPersists(t *testing.T) {
	m := newTestManager(t, &axisEmbedder{vectors: map[string][]float32{}})

	id, err := m.Write(context.Background(), "u1", domain.MemoryEntry{
		Content:    "likes green tea",
		Category:   "preference",
		Importance: 7,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id == "" {
		t.Fatal("Write() returned empty id")
	}

	entries, err := m.loadEntries("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].UserID != "u1" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].CreatedAt == "" {
		t.Error("CreatedAt not set")
	}

	vecs, err := m.loadVectors("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 || vecs[0].ID != id {
		t.Errorf("vectors = %+v", vecs)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	embedder := &axisEmbedder{vectors: map[string][]float32{
		"tea fact":    {1, 0, 0},
		"coffee fact": {0, 1, 0},
		"tea?":        {0.9, 0.1, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	if _, err := m.Write(ctx, "u1", domain.MemoryEntry{Content: "tea fact", Category: "fact"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write(ctx, "u1", domain.MemoryEntry{Content: "coffee fact", Category: "fact"}); err != nil {
		t.Fatal(err)
	}

	results, err := m.SearchTopK(ctx, "u1", "tea?", 1)
	if err != nil {
		t.Fatalf("SearchTopK() error = %v", err)
	}
	if len(results) != 1 || results[0].Content != "tea fact" {
		t.Errorf("results = %+v, want the tea fact", results)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	m := newTestManager(t, &axisEmbedder{})
	results, err := m.Search(context.Background(), "u1", "anything")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestSearchDegradesOnEmbeddingFailure(t *testing.T) {
	good := &axisEmbedder{vectors: map[string][]float32{}}
	m := newTestManager(t, good)
	if _, err := m.Write(context.Background(), "u1", domain.MemoryEntry{Content: "x"}); err != nil {
		t.Fatal(err)
	}

	m.embedder = &axisEmbedder{err: domain.ErrEmbeddingFailed}
	results, err := m.Search(context.Background(), "u1", "query")
	if err != nil {
		t.Fatalf("Search() error = %v, embedding failures must degrade", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty on degraded search", results)
	}
}

func TestWriteFailsWhenEmbeddingFails(t *testing.T) {
	m := newTestManager(t, &axisEmbedder{err: domain.ErrEmbeddingFailed})
	_, err := m.Write(context.Background(), "u1", domain.MemoryEntry{Content: "x"})
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Fatalf("Write() error = %v, want ErrEmbeddingFailed", err)
	}
}

func TestSearchScopedToUser(t *testing.T) {
	m := newTestManager(t, &axisEmbedder{vectors: map[string][]float32{}})
	if _, err := m.Write(context.Background(), "u1", domain.MemoryEntry{Content: "u1 fact"}); err != nil {
		t.Fatal(err)
	}
	results, err := m.Search(context.Background(), "u2", "u1 fact")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, u2 sees u1 memories", results)
	}
}

func TestSaveJSONLeavesNoTempFiles(t *testing.T) {
	m := newTestManager(t, &axisEmbedder{vectors: map[string][]float32{}})
	if _, err := m.Write(context.Background(), "u1", domain.MemoryEntry{Content: "x"}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(m.dataDir, "users", "u1", "memory")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "entries.json" && e.Name() != "vectors.json" {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}
