package provider

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/trustbench/trustbench/internal/domain"
)

// cacheKey is the sha256 of the trimmed text, so the map footprint stays
// independent of reference-truth length.
type cacheKey [32]byte

func hashText(text string) cacheKey {
	return sha256.Sum256([]byte(strings.TrimSpace(text)))
}

// embedCache wraps an Embedder and caches vectors by text hash. The scorer
// embeds the same reference truths on every run, so even a small cache
// removes most repeat embedding traffic. Eviction is FIFO; safe for
// concurrent use.
type embedCache struct {
	base     domain.Embedder
	capacity int

	mu    sync.RWMutex
	vecs  map[cacheKey][]float64
	order []cacheKey
}

// NewEmbedCache wraps base with an embedding cache of capacity entries.
// Capacity <= 0 returns base unmodified.
func NewEmbedCache(base domain.Embedder, capacity int) domain.Embedder {
	if base == nil || capacity <= 0 {
		return base
	}
	return &embedCache{
		base:     base,
		capacity: capacity,
		vecs:     make(map[cacheKey][]float64, capacity),
	}
}

// Embed serves cached vectors and batches the misses into one base call,
// preserving input order.
func (c *embedCache) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	type miss struct {
		pos  int
		text string
		key  cacheKey
	}

	out := make([][]float64, len(texts))
	var misses []miss

	c.mu.RLock()
	for i, text := range texts {
		key := hashText(text)
		if vec, ok := c.vecs[key]; ok {
			out[i] = vec
		} else {
			misses = append(misses, miss{pos: i, text: text, key: key})
		}
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return out, nil
	}

	batch := make([]string, len(misses))
	for i, m := range misses {
		batch[i] = m.text
	}
	fresh, err := c.base.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(batch) {
		// A base that miscounts cannot be aligned with the miss
		// positions; retry the whole input uncached.
		return c.base.Embed(ctx, texts)
	}

	c.mu.Lock()
	for i, m := range misses {
		out[m.pos] = fresh[i]
		c.store(m.key, fresh[i])
	}
	c.mu.Unlock()
	return out, nil
}

// store inserts one entry; the caller holds the write lock. The oldest
// entry leaves once the cache is full.
func (c *embedCache) store(key cacheKey, vec []float64) {
	if _, ok := c.vecs[key]; ok {
		c.vecs[key] = vec
		return
	}
	if len(c.order) >= c.capacity {
		evicted := c.order[0]
		c.order = c.order[1:]
		delete(c.vecs, evicted)
	}
	c.vecs[key] = vec
	c.order = append(c.order, key)
}
