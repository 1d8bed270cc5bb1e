package embedding

import (
	"context"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the LRU capacity used when none is given.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder memoizes an inner Embedder's output per (text, model)
// pair in a bounded LRU, so repeated queries against a built index skip
// re-embedding entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[uint64, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given capacity.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[uint64, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// NewCachedEmbedderWithDefaults wraps inner with the default cache size.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

// cacheKey hashes text against the inner embedder's model name with the
// same xxhash the LSH index uses for its MinHash signatures, so a model
// swap can never collide with a stale entry from a different model.
func (c *CachedEmbedder) cacheKey(text string) uint64 {
	h := xxhash.New()
	h.WriteString(text)
	h.WriteString("\x00")
	h.WriteString(c.inner.ModelName())
	return h.Sum64()
}

// Embed returns the cached vector for text if present, otherwise computes
// and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch resolves texts against the cache, then embeds whatever
// remains in a single inner call. Unlike a naive per-index cache check,
// duplicate texts within the same batch are embedded at most once —
// every duplicate index is filled in from the one computed vector.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	missIndicesByKey := make(map[uint64][]int)
	for i, text := range texts {
		key := c.cacheKey(text)

		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		missIndicesByKey[key] = append(missIndicesByKey[key], i)
	}

	if len(missIndicesByKey) == 0 {
		return results, nil
	}

	missTexts := make([]string, 0, len(missIndicesByKey))
	missKeys := make([]uint64, 0, len(missIndicesByKey))
	for key, indices := range missIndicesByKey {
		missTexts = append(missTexts, texts[indices[0]])
		missKeys = append(missKeys, key)
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, key := range missKeys {
		vec := computed[j]
		c.cache.Add(key, vec)
		for _, idx := range missIndicesByKey[key] {
			results[idx] = vec
		}
	}

	return results, nil
}

// Dimensions passes through to the inner embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available passes through to the inner embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close releases the inner embedder's resources.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
