package embedding

import (
	"context"
	"testing"
)

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i]))}
	}
	return vecs, nil
}

func (e *countingEmbedder) Dimensions() int { return 1 }
func (e *countingEmbedder) Name() string    { return "counting" }

func TestCachedSingleQueryHits(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 8)

	for i := 0; i < 3; i++ {
		vecs, err := c.Embed(context.Background(), []string{"same query"})
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		if len(vecs) != 1 {
			t.Fatalf("vectors = %v", vecs)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestCachedBatchPassesThrough(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 8)

	for i := 0; i < 2; i++ {
		if _, err := c.Embed(context.Background(), []string{"a", "b"}); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 (batches uncached)", inner.calls)
	}
}

func TestCachedEvictsOldest(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 2)

	queries := []string{"one", "two", "three"}
	for _, q := range queries {
		if _, err := c.Embed(context.Background(), []string{q}); err != nil {
			t.Fatal(err)
		}
	}
	// "one" was evicted by "three"; re-embedding it hits the inner provider.
	if _, err := c.Embed(context.Background(), []string{"one"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 4 {
		t.Errorf("inner calls = %d, want 4", inner.calls)
	}
}

func TestCachedDisabledReturnsInner(t *testing.T) {
	inner := &countingEmbedder{}
	if got := NewCached(inner, 0); got != inner {
		t.Error("NewCached(inner, 0) wrapped anyway")
	}
}
