// Package engine implements the hybrid search orchestrator: it fans out
// query-time candidate retrieval across the LSH and HNSW indexes, scores
// survivors against BM25 and the stored vectors, and fuses the three
// signals under a fixed linear blend.
package engine

import (
	"context"
	"time"

	"github.com/corvus-labs/hybridcore/internal/store"
)

// Bounds on num_results per §4.E operation 2.
const (
	MinNumResults = 1
	MaxNumResults = 1000
)

// Candidate recall caps per §4.E operation 2.
const (
	LSHCandidateCap = 200
	ANNCandidateK   = 100
)

// SearchOptions carries the query-time parameters accepted by Search.
// Filter is checked against each candidate's stored metadata; a nil
// Filter matches everything. Filter evaluation has no failure path, so a
// filter never causes a search to fail.
type SearchOptions struct {
	NumResults int
	Filter     *store.Filter
}

// PerformanceStats mirrors performance_stats() (§4.E operation 5, §6).
type PerformanceStats struct {
	TotalSearches     int64   `json:"total_searches"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

// IncrementalStats mirrors incremental_stats() (§6).
type IncrementalStats struct {
	TotalProcessed int64      `json:"total_processed"`
	Successful     int64      `json:"successful"`
	Failed         int64      `json:"failed"`
	QueueSize      int        `json:"queue_size"`
	IsProcessing   bool       `json:"is_processing"`
	LastUpdateTime *time.Time `json:"last_update_time,omitempty"`
}

// FlushResult is the return value of flush_pending() (§6).
type FlushResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// MutableIndexSink is the capability interface the incremental manager uses
// to mutate engine-owned state. Design Note §9 ("Cyclic / back-references")
// calls for exactly this: the manager holds a MutableIndexSink, never the
// engine itself, so the engine can own the manager without the reverse also
// being true.
type MutableIndexSink interface {
	// ApplyDeletes removes ids from every index and tombstones them in the
	// ANN graph, per §4.F step 1.
	ApplyDeletes(ctx context.Context, ids []string) error

	// ApplyUpserts embeds and writes adds/updates into every index, per
	// §4.F step 2.
	ApplyUpserts(ctx context.Context, docs []*store.Document) error

	// Persist writes the current index state to disk (§4.F step 3).
	Persist(ctx context.Context) error

	// InvalidateCache drops every cached search result (§4.F step 4).
	InvalidateCache()

	// TombstoneCount reports the ANN index's current orphan count, used to
	// decide whether a deferred rebuild should be scheduled.
	TombstoneCount() int

	// RequestRebuild schedules a deferred, single-flight ANN rebuild.
	RequestRebuild()
}
