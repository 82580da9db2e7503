package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"gracebot/internal/domain"
)

// cacheEntry pairs a hashed text key with its vector in the LRU list.
type cacheEntry struct {
	key uint64
	vec []float32
}

// Cached wraps an EmbeddingProvider with an LRU cache for single-text
// queries. Batch calls pass through uncached; search queries repeat far
// more often than memory writes.
type Cached struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	cache map[uint64]*list.Element
	order *list.List // most-recently-used at the back
}

var _ domain.EmbeddingProvider = (*Cached)(nil)

// NewCached wraps inner with an LRU cache of maxSize entries. A maxSize
// <= 0 disables caching and returns inner unchanged.
func NewCached(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &Cached{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := hashText(texts[0])

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		vec := elem.Value.(*cacheEntry).vec
		c.mu.Unlock()
		return [][]float32{vec}, nil
	}
	c.mu.Unlock()

	vectors, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return vectors, nil
	}

	c.mu.Lock()
	c.put(key, vectors[0])
	c.mu.Unlock()
	return vectors, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *Cached) Name() string { return c.inner.Name() }

// put inserts under c.mu, evicting the least-recently-used entry at capacity.
func (c *Cached) put(key uint64, vec []float32) {
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*cacheEntry).vec = vec
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*cacheEntry).key)
	}
	c.cache[key] = c.order.PushBack(&cacheEntry{key: key, vec: vec})
}

func hashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
