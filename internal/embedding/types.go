// Package embedding defines the Embedder capability consumed by the search
// engine, plus a couple of concrete implementations usable without a live
// model server: a deterministic hash-based embedder and an LRU-memoizing
// wrapper around any Embedder.
package embedding

import (
	"context"
	"math"
)

// Embedder generates fixed-dimension vector embeddings for text. It is an
// external capability: the engine never retries a failed call itself and
// never observes model internals — only Embed/EmbedBatch's return values.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension d.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources held by the embedder.
	Close() error
}

// normalizeVector returns a unit-length copy of v. The zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
