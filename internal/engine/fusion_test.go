package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/hybridcore/internal/store"
)

func TestFuse_CombinesUnderFixedLinearBlend(t *testing.T) {
	candidates := []candidateScore{
		{docID: "a", vectorSim: 1.0, jaccard: 1.0, bm25: 1.0, metadata: &store.Metadata{Name: "Alice"}},
	}

	results := fuse(candidates)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].CombinedScore, 1e-9)
	assert.Equal(t, "a", results[0].DocID)
	assert.Equal(t, "Alice", results[0].Metadata.Name)
}

func TestFuse_WeightsAreExactlyFourThreeThree(t *testing.T) {
	candidates := []candidateScore{
		{docID: "a", vectorSim: 1.0, jaccard: 0.0, bm25: 0.0},
		{docID: "b", vectorSim: 0.0, jaccard: 1.0, bm25: 0.0},
		{docID: "c", vectorSim: 0.0, jaccard: 0.0, bm25: 1.0},
	}

	results := fuse(candidates)
	byID := make(map[string]*store.SearchResult, len(results))
	for _, r := range results {
		byID[r.DocID] = r
	}

	assert.InDelta(t, 0.4, byID["a"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.3, byID["b"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.3, byID["c"].CombinedScore, 1e-9)
}

func TestFuse_SortsByCombinedScoreDescending(t *testing.T) {
	candidates := []candidateScore{
		{docID: "low", vectorSim: 0.1, jaccard: 0.1, bm25: 0.1},
		{docID: "high", vectorSim: 0.9, jaccard: 0.9, bm25: 0.9},
		{docID: "mid", vectorSim: 0.5, jaccard: 0.5, bm25: 0.5},
	}

	results := fuse(candidates)
	require.Len(t, results, 3)
	assert.Equal(t, "high", results[0].DocID)
	assert.Equal(t, "mid", results[1].DocID)
	assert.Equal(t, "low", results[2].DocID)
}

func TestFuse_TiesBreakByDocIDAscending(t *testing.T) {
	candidates := []candidateScore{
		{docID: "zebra", vectorSim: 0.5, jaccard: 0.5, bm25: 0.5},
		{docID: "apple", vectorSim: 0.5, jaccard: 0.5, bm25: 0.5},
		{docID: "mango", vectorSim: 0.5, jaccard: 0.5, bm25: 0.5},
	}

	results := fuse(candidates)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, []string{results[0].DocID, results[1].DocID, results[2].DocID})
}

func TestFuse_EmptyInput(t *testing.T) {
	results := fuse(nil)
	assert.Empty(t, results)
}

func TestFuse_IsDeterministicAcrossRuns(t *testing.T) {
	candidates := []candidateScore{
		{docID: "a", vectorSim: 0.3, jaccard: 0.6, bm25: 0.2},
		{docID: "b", vectorSim: 0.8, jaccard: 0.1, bm25: 0.4},
		{docID: "c", vectorSim: 0.5, jaccard: 0.5, bm25: 0.5},
	}

	first := fuse(candidates)
	second := fuse(candidates)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].DocID, second[i].DocID)
		assert.InDelta(t, first[i].CombinedScore, second[i].CombinedScore, 1e-12)
	}
}

func TestFuse_PreservesIndividualSignalScores(t *testing.T) {
	candidates := []candidateScore{
		{docID: "a", vectorSim: 0.7, jaccard: 0.2, bm25: 0.9},
	}

	results := fuse(candidates)
	require.Len(t, results, 1)
	assert.Equal(t, 0.7, results[0].SimilarityScore)
	assert.Equal(t, 0.2, results[0].JaccardScore)
	assert.Equal(t, 0.9, results[0].BM25Score)
}
