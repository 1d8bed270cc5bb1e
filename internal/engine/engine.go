package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corvus-labs/hybridcore/internal/embedding"
	"github.com/corvus-labs/hybridcore/internal/hconfig"
	"github.com/corvus-labs/hybridcore/internal/herrors"
	"github.com/corvus-labs/hybridcore/internal/incremental"
	"github.com/corvus-labs/hybridcore/internal/persistence"
	"github.com/corvus-labs/hybridcore/internal/store"
)

// scoringConcurrency bounds the worker pool used to score surviving
// candidates against the full-precision vectors, BM25, and LSH signatures.
const scoringConcurrency = 8

// Engine is the hybrid search orchestrator: it builds and queries the
// HNSW, LSH, BM25, and (optional) product-quantized indexes over a corpus
// of Documents, and applies a fixed linear fusion over the three scoring
// signals at query time.
type Engine struct {
	cfg      hconfig.Config
	embedder embedding.Embedder

	ann  store.VectorStore
	bm25 store.BM25Index
	lsh  *store.LSHIndex
	pq   *store.ProductQuantizer

	mu           sync.RWMutex
	metadata     map[string]*store.Metadata
	vectors      map[string][]float32 // full-precision, consulted for any candidate regardless of retrieval origin
	textFeatures map[string]map[string]struct{}
	pqCodes      map[string][]byte

	cache  *queryCache
	logger *slog.Logger

	manager *incremental.Manager

	statsMu        sync.Mutex
	totalSearches  int64
	cacheHits      int64
	totalLatencyMs float64

	rebuildMu      sync.Mutex
	rebuildRunning bool
}

// NewEngine constructs an Engine from configuration and an Embedder. The
// incremental manager is started immediately; callers must call Close to
// stop it.
func NewEngine(cfg hconfig.Config, embedder embedding.Embedder, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, herrors.NewValidationError(herrors.CodeEmbedderUnavailable, "embedder is required", nil)
	}
	if cfg.Engine.EmbeddingDim <= 0 {
		cfg.Engine.EmbeddingDim = embedder.Dimensions()
	}
	if err := cfg.Validate(); err != nil {
		return nil, herrors.NewValidationError(herrors.CodeInvalidConfig, "invalid engine configuration", err)
	}

	ann, err := store.NewANNIndex(store.DefaultVectorStoreConfig(cfg.Engine.EmbeddingDim))
	if err != nil {
		return nil, herrors.NewIndexBuildError(herrors.CodeBuildFailed, "create ann index", err)
	}

	e := &Engine{
		cfg:          cfg,
		embedder:     embedder,
		ann:          ann,
		bm25:         store.NewKeywordIndex(),
		lsh:          store.NewLSHIndex(),
		pq:           store.NewProductQuantizer(cfg.Engine.EmbeddingDim),
		metadata:     make(map[string]*store.Metadata),
		vectors:      make(map[string][]float32),
		textFeatures: make(map[string]map[string]struct{}),
		pqCodes:      make(map[string][]byte),
		cache:        newQueryCache(cfg.Cache.Capacity),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.manager = incremental.NewManager(cfg.Incremental, e, e.logger)

	return e, nil
}

// BuildIndexes performs the full (non-incremental) build: it embeds every
// valid document once, then constructs the ANN, BM25, and LSH indexes in
// parallel, per §4.A-§4.D. Invalid documents are skipped with a warning
// rather than failing the whole build. Validation and embedding failures
// are returned before any index is mutated, so prior state (if any)
// survives intact. A failure while populating the indexes is returned
// as is: the ANN, BM25, and LSH indexes are written in place, and what
// the other index builds already wrote is not rolled back.
func (e *Engine) BuildIndexes(ctx context.Context, docs []*store.Document) error {
	valid := make([]*store.Document, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			e.logger.Warn("skipping invalid document during build", "error", err)
			continue
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "no valid documents to build from", nil)
	}

	texts := make([]string, len(valid))
	for i, d := range valid {
		texts[i] = d.Text()
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return herrors.NewEmbeddingError(herrors.CodeEmbedderFailed, "embed documents for build", err)
	}
	if len(vectors) != len(valid) {
		return herrors.NewEmbeddingError(herrors.CodeEmbedderBadShape, "embedder returned a mismatched vector count", nil)
	}
	for _, v := range vectors {
		if len(v) != e.cfg.Engine.EmbeddingDim {
			return herrors.NewEmbeddingError(herrors.CodeDimensionMismatch, "embedding dimension mismatch",
				store.ErrDimensionMismatch{Expected: e.cfg.Engine.EmbeddingDim, Got: len(v)})
		}
	}

	ids := make([]string, len(valid))
	for i, d := range valid {
		ids[i] = d.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.ann.Add(gctx, ids, vectors); err != nil {
			return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "build ann index", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.bm25.Index(gctx, valid); err != nil {
			return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "build bm25 index", err)
		}
		return nil
	})
	g.Go(func() error {
		for _, d := range valid {
			e.lsh.AddDocument(d.ID, d.TextFeatures())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	for i, d := range valid {
		e.metadata[d.ID] = d.Metadata()
		e.vectors[d.ID] = vectors[i]
		e.textFeatures[d.ID] = d.TextFeatures()
	}
	e.mu.Unlock()

	// PQ is a memory-footprint feature only: training below the minimum
	// sample count is expected, not an error, and search correctness never
	// depends on it (§9 "PQ role").
	if err := e.pq.Train(vectors); err != nil {
		e.logger.Debug("product quantizer not trained for this build", "error", err)
	} else {
		e.mu.Lock()
		for i, d := range valid {
			if code, err := e.pq.Encode(vectors[i]); err == nil {
				e.pqCodes[d.ID] = code
			}
		}
		e.mu.Unlock()
	}

	if err := e.Persist(ctx); err != nil {
		return err
	}
	e.cache.Invalidate()

	return nil
}

// Search embeds query, fans out candidate retrieval across the LSH and
// HNSW indexes, scores every surviving candidate against all three
// signals, and fuses them under the fixed linear blend (§4.E operation 2).
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*store.SearchResult, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, herrors.NewValidationError(herrors.CodeEmptyQuery, "query must not be empty", nil)
	}
	if opts.NumResults < MinNumResults || opts.NumResults > MaxNumResults {
		return nil, herrors.NewValidationError(herrors.CodeInvalidTopK,
			fmt.Sprintf("num_results must be between %d and %d", MinNumResults, MaxNumResults), nil)
	}

	key := cacheKey(query, opts.NumResults, opts.Filter)
	if cached, ok := e.cache.Get(key); ok {
		e.recordSearch(time.Since(start), true)
		return cached, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, herrors.NewEmbeddingError(herrors.CodeEmbedderFailed, "embed query", err).WithQuery(query)
	}
	queryFeatures := featuresOf(query)

	var lshIDs []string
	var annIDs []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lshIDs = e.lsh.QueryCandidates(queryFeatures, LSHCandidateCap)
		return nil
	})
	g.Go(func() error {
		results, err := e.ann.Search(gctx, queryVec, ANNCandidateK)
		if err != nil {
			return herrors.NewSearchError(herrors.CodeCandidateFanout, "ann candidate search", err)
		}
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		annIDs = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := unionIDs(lshIDs, annIDs)

	e.mu.RLock()
	filtered := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if opts.Filter.Matches(e.metadata[id]) {
			filtered = append(filtered, id)
		}
	}
	e.mu.RUnlock()

	scored, err := e.scoreCandidates(ctx, filtered, query, queryVec, queryFeatures)
	if err != nil {
		return nil, err
	}

	fused := fuse(scored)
	if len(fused) > opts.NumResults {
		fused = fused[:opts.NumResults]
	}

	e.cache.Put(key, fused)
	e.recordSearch(time.Since(start), false)

	return fused, nil
}

// scoreCandidates computes the three fusion signals for every candidate in
// parallel, bounded to scoringConcurrency in flight at once. A candidate
// with no stored full-precision vector is dropped silently — it can only
// have come from the LSH side and lost a race with a concurrent delete.
func (e *Engine) scoreCandidates(ctx context.Context, ids []string, query string, queryVec []float32, queryFeatures map[string]struct{}) ([]candidateScore, error) {
	scored := make([]candidateScore, 0, len(ids))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			e.mu.RLock()
			vec, hasVec := e.vectors[id]
			meta := e.metadata[id]
			e.mu.RUnlock()
			if !hasVec {
				return nil
			}

			cs := candidateScore{
				docID:     id,
				vectorSim: cosineSimilarity(queryVec, vec),
				jaccard:   e.lsh.JaccardSimilarity(id, queryFeatures),
				bm25:      e.bm25.Score(id, query),
				metadata:  meta,
			}

			mu.Lock()
			scored = append(scored, cs)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, herrors.NewSearchError(herrors.CodeScoringFailed, "score candidates", err)
	}

	return scored, nil
}

// ApplyDocumentChange enqueues a single document mutation with the
// incremental manager; it is applied on the manager's own batch cadence
// rather than synchronously (§4.F).
func (e *Engine) ApplyDocumentChange(ctx context.Context, id string, kind store.ChangeKind, doc *store.Document) error {
	if kind != store.ChangeDelete && doc == nil {
		return herrors.NewValidationError(herrors.CodeUnknownDocument, "document is required for add/update changes", nil)
	}
	e.manager.Enqueue(store.Change{DocID: id, Kind: kind, Doc: doc, Timestamp: time.Now()})
	return nil
}

// FlushPending forces an immediate application of whatever the incremental
// manager currently has pending, implementing flush_pending() (§6).
func (e *Engine) FlushPending(ctx context.Context) (FlushResult, error) {
	r := e.manager.Flush(ctx)
	return FlushResult{Processed: r.Processed, Errors: r.Errors}, nil
}

// PerformanceStats reports query-path bookkeeping, implementing
// performance_stats() (§4.E operation 5, §6).
func (e *Engine) PerformanceStats() PerformanceStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	var avg, hitRate float64
	if e.totalSearches > 0 {
		avg = e.totalLatencyMs / float64(e.totalSearches)
		hitRate = float64(e.cacheHits) / float64(e.totalSearches)
	}
	return PerformanceStats{
		TotalSearches:     e.totalSearches,
		AvgResponseTimeMs: avg,
		CacheHitRate:      hitRate,
	}
}

// IncrementalStats reports the incremental manager's bookkeeping,
// implementing incremental_stats() (§6).
func (e *Engine) IncrementalStats() IncrementalStats {
	s := e.manager.Stats()
	return IncrementalStats{
		TotalProcessed: s.TotalProcessed,
		Successful:     s.Successful,
		Failed:         s.Failed,
		QueueSize:      s.QueueSize,
		IsProcessing:   s.IsProcessing,
		LastUpdateTime: s.LastUpdateTime,
	}
}

// SaveIndexes persists the current index state, implementing
// save_indexes() (§4.G).
func (e *Engine) SaveIndexes(ctx context.Context) error {
	return e.Persist(ctx)
}

// LoadIndexes restores index state from disk, implementing load_indexes()
// (§4.G). A missing index directory is not an error — the engine is left
// empty, ready for a fresh BuildIndexes.
func (e *Engine) LoadIndexes(ctx context.Context) error {
	e.mu.Lock()
	bundle := e.persistenceBundleLocked()
	e.mu.Unlock()

	if err := persistence.Load(ctx, e.cfg.Engine.IndexPath, e.logger, bundle); err != nil {
		return err
	}
	e.cache.Invalidate()
	return nil
}

// Close stops the incremental manager and releases index resources.
func (e *Engine) Close() error {
	e.manager.Stop()
	if err := e.ann.Close(); err != nil {
		e.logger.Warn("close ann index", "error", err)
	}
	if err := e.bm25.Close(); err != nil {
		e.logger.Warn("close bm25 index", "error", err)
	}
	return nil
}

// --- MutableIndexSink -------------------------------------------------
//
// The methods below let the incremental manager mutate engine state
// without the engine importing the manager's package (Design Note §9).

// ApplyDeletes removes ids from every index, per §4.F step 1.
func (e *Engine) ApplyDeletes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := e.ann.Delete(ctx, ids); err != nil {
		return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "delete from ann index", err)
	}
	if err := e.bm25.Delete(ctx, ids); err != nil {
		return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "delete from bm25 index", err)
	}

	e.mu.Lock()
	for _, id := range ids {
		e.lsh.RemoveDocument(id)
		delete(e.metadata, id)
		delete(e.vectors, id)
		delete(e.textFeatures, id)
		delete(e.pqCodes, id)
	}
	e.mu.Unlock()

	return nil
}

// ApplyUpserts embeds and writes adds/updates into every index, per §4.F
// step 2. The ANN and BM25 indexes already treat re-adding an existing ID
// as an update, so adds and updates share one code path here.
func (e *Engine) ApplyUpserts(ctx context.Context, docs []*store.Document) error {
	valid := make([]*store.Document, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			e.logger.Warn("skipping invalid document in incremental upsert", "id", d.ID, "error", err)
			continue
		}
		valid = append(valid, d)
		texts = append(texts, d.Text())
	}
	if len(valid) == 0 {
		return nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return herrors.NewEmbeddingError(herrors.CodeEmbedderFailed, "embed incremental upserts", err)
	}

	ids := make([]string, len(valid))
	for i, d := range valid {
		ids[i] = d.ID
	}

	if err := e.ann.Add(ctx, ids, vectors); err != nil {
		return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "upsert ann index", err)
	}
	if err := e.bm25.Index(ctx, valid); err != nil {
		return herrors.NewIndexBuildError(herrors.CodeBuildFailed, "upsert bm25 index", err)
	}

	e.mu.Lock()
	for i, d := range valid {
		e.lsh.AddDocument(d.ID, d.TextFeatures())
		e.metadata[d.ID] = d.Metadata()
		e.vectors[d.ID] = vectors[i]
		e.textFeatures[d.ID] = d.TextFeatures()
		if e.pq.Trained() {
			if code, err := e.pq.Encode(vectors[i]); err == nil {
				e.pqCodes[d.ID] = code
			}
		}
	}
	e.mu.Unlock()

	return nil
}

// Persist writes the current index state to disk (§4.F step 3, §4.G).
func (e *Engine) Persist(ctx context.Context) error {
	e.mu.RLock()
	bundle := e.persistenceBundleLocked()
	e.mu.RUnlock()

	return persistence.Save(ctx, e.cfg.Engine.IndexPath, bundle)
}

// persistenceBundleLocked builds the persistence.Bundle view over engine
// state. Callers must hold e.mu (read or write) while calling this.
func (e *Engine) persistenceBundleLocked() persistence.Bundle {
	return persistence.Bundle{
		ANN:          e.ann,
		BM25:         asKeywordIndex(e.bm25),
		LSH:          e.lsh,
		PQ:           e.pq,
		Vectors:      e.vectors,
		PQCodes:      e.pqCodes,
		Metadata:     e.metadata,
		TextFeatures: e.textFeatures,
	}
}

// InvalidateCache drops every cached search result (§4.F step 4).
func (e *Engine) InvalidateCache() {
	e.cache.Invalidate()
}

// TombstoneCount reports the ANN index's current orphan count.
func (e *Engine) TombstoneCount() int {
	return e.ann.Stats().Orphans
}

// RequestRebuild schedules a deferred, single-flight ANN rebuild: a
// rebuild already in flight makes this a no-op, since the tombstone count
// that triggered it will be re-evaluated on the next flush regardless.
func (e *Engine) RequestRebuild() {
	e.rebuildMu.Lock()
	if e.rebuildRunning {
		e.rebuildMu.Unlock()
		return
	}
	e.rebuildRunning = true
	e.rebuildMu.Unlock()

	go e.runRebuild()
}

func (e *Engine) runRebuild() {
	defer func() {
		e.rebuildMu.Lock()
		e.rebuildRunning = false
		e.rebuildMu.Unlock()
	}()

	ctx := context.Background()

	e.mu.RLock()
	ids := make([]string, 0, len(e.vectors))
	vectors := make([][]float32, 0, len(e.vectors))
	for id, v := range e.vectors {
		ids = append(ids, id)
		vectors = append(vectors, v)
	}
	cfg := store.DefaultVectorStoreConfig(e.cfg.Engine.EmbeddingDim)
	e.mu.RUnlock()

	fresh, err := store.NewANNIndex(cfg)
	if err != nil {
		e.logger.Error("deferred ann rebuild failed to allocate index", "error", err)
		return
	}
	if err := fresh.Add(ctx, ids, vectors); err != nil {
		e.logger.Error("deferred ann rebuild failed", "error", err)
		return
	}

	e.mu.Lock()
	e.ann = fresh
	e.mu.Unlock()

	if err := e.Persist(ctx); err != nil {
		e.logger.Error("persist after ann rebuild failed", "error", err)
	}
}

var _ MutableIndexSink = (*Engine)(nil)

func asKeywordIndex(idx store.BM25Index) *store.KeywordIndex {
	k, _ := idx.(*store.KeywordIndex)
	return k
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func featuresOf(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range store.Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

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

func (e *Engine) recordSearch(latency time.Duration, cacheHit bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.totalSearches++
	if cacheHit {
		e.cacheHits++
	}
	e.totalLatencyMs += float64(latency.Microseconds()) / 1000.0
}
