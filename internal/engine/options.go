package engine

import (
	"log/slog"

	"github.com/corvus-labs/hybridcore/internal/embedding"
	"github.com/corvus-labs/hybridcore/internal/store"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the structured logger the engine and its incremental
// manager log through. Defaults to slog.Default() when not supplied.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCacheCapacity overrides the FIFO query-cache capacity (default 1000).
func WithCacheCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.cache = newQueryCache(capacity)
		}
	}
}

// WithANNIndex injects a pre-built ANN index instead of constructing one
// from EmbeddingDim. Mainly useful for tests.
func WithANNIndex(idx store.VectorStore) Option {
	return func(e *Engine) {
		e.ann = idx
	}
}

// WithBM25Index injects a pre-built keyword index instead of a fresh one.
func WithBM25Index(idx store.BM25Index) Option {
	return func(e *Engine) {
		e.bm25 = idx
	}
}

// WithLSHIndex injects a pre-built LSH index instead of a fresh one.
func WithLSHIndex(idx *store.LSHIndex) Option {
	return func(e *Engine) {
		e.lsh = idx
	}
}

// WithProductQuantizer injects a pre-built product quantizer instead of a
// fresh one.
func WithProductQuantizer(pq *store.ProductQuantizer) Option {
	return func(e *Engine) {
		e.pq = pq
	}
}

// WithEmbedder overrides the embedder passed to NewEngine. Rarely needed
// outside of tests since NewEngine already requires one.
func WithEmbedder(embedder embedding.Embedder) Option {
	return func(e *Engine) {
		if embedder != nil {
			e.embedder = embedder
		}
	}
}
