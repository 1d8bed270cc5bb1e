// Package store holds the index data structures the engine composes:
// the BM25 lexical index, the LSH candidate index, the product quantizer,
// and the HNSW approximate nearest-neighbor index, plus the Document
// record type shared across them.
package store

import (
	"context"
	"fmt"
)

// BM25Result represents a single BM25 search hit.
type BM25Result struct {
	DocID string
	Score float64
}

// IndexStats reports BM25 index-wide bookkeeping, exposed directly (not
// hidden behind an opaque scorer) so callers can verify df/corpus-size/
// avg-doc-length invariants.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using Okapi BM25 scoring.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	Score(docID, query string) float64
	AllIDs() []string
	Stats() IndexStats
	DocumentFrequency(term string) int

	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorResult represents a single vector search hit.
type VectorResult struct {
	ID       string
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the HNSW-backed ANN index.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns the fixed defaults chosen to favor
// recall at small corpus sizes (no runtime tuning in the core, per §4.A).
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// ANNStats reports the ANN index's live/orphan node counts, used by the
// incremental manager to decide when a tombstone threshold is crossed.
type ANNStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// VectorStore provides dense-vector approximate nearest neighbor search.
// Incremental add is supported by appending; incremental delete is not —
// deletes are lazy (tombstoned) per §4.A/§9.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Stats() ANNStats

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch against the
// configured embedding dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
