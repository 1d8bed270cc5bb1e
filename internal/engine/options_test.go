package engine

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/hybridcore/internal/embedding"
	"github.com/corvus-labs/hybridcore/internal/hconfig"
	"github.com/corvus-labs/hybridcore/internal/store"
)

func testCfg(t *testing.T, dim int) hconfig.Config {
	t.Helper()
	cfg := *hconfig.NewConfig()
	cfg.Engine.EmbeddingDim = dim
	cfg.Engine.IndexPath = t.TempDir()
	return cfg
}

func TestNewEngine_RequiresEmbedder(t *testing.T) {
	_, err := NewEngine(testCfg(t, 32), nil)
	assert.Error(t, err)
}

func TestWithLogger_OverridesDefault(t *testing.T) {
	logger := slog.Default().With("component", "test")
	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithLogger(logger))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, logger, e.logger)
}

func TestWithLogger_NilIsIgnored(t *testing.T) {
	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithLogger(nil))
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.logger)
}

func TestWithCacheCapacity_OverridesDefault(t *testing.T) {
	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithCacheCapacity(3))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 3, e.cache.capacity)
}

func TestWithANNIndex_InjectsProvidedIndex(t *testing.T) {
	idx, err := store.NewANNIndex(store.DefaultVectorStoreConfig(32))
	require.NoError(t, err)

	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithANNIndex(idx))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, store.VectorStore(idx), e.ann)
}

func TestWithBM25Index_InjectsProvidedIndex(t *testing.T) {
	idx := store.NewKeywordIndex()

	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithBM25Index(idx))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, store.BM25Index(idx), e.bm25)
}

func TestWithLSHIndex_InjectsProvidedIndex(t *testing.T) {
	idx := store.NewLSHIndex()

	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithLSHIndex(idx))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, idx, e.lsh)
}

func TestWithProductQuantizer_InjectsProvidedQuantizer(t *testing.T) {
	pq := store.NewProductQuantizer(32)

	e, err := NewEngine(testCfg(t, 32), embedding.NewStaticEmbedder(32), WithProductQuantizer(pq))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, pq, e.pq)
}

func TestWithEmbedder_OverridesConstructorEmbedder(t *testing.T) {
	primary := embedding.NewStaticEmbedder(32)
	override := embedding.NewStaticEmbedder(32)

	e, err := NewEngine(testCfg(t, 32), primary, WithEmbedder(override))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, embedding.Embedder(override), e.embedder)
}

func TestWithEmbedder_NilIsIgnored(t *testing.T) {
	primary := embedding.NewStaticEmbedder(32)

	e, err := NewEngine(testCfg(t, 32), primary, WithEmbedder(nil))
	require.NoError(t, err)
	defer e.Close()

	assert.Same(t, embedding.Embedder(primary), e.embedder)
}
