package engine

import (
	"sort"

	"github.com/corvus-labs/hybridcore/internal/store"
)

// Fusion weights are fixed by design (§4.E); changing them is a spec
// change, not a runtime tuning knob.
const (
	weightVectorSim = 0.4
	weightJaccard   = 0.3
	weightBM25      = 0.3
)

// candidateScore holds the three heterogeneous signals computed for one
// surviving candidate before fusion.
type candidateScore struct {
	docID     string
	vectorSim float64
	jaccard   float64
	bm25      float64
	metadata  *store.Metadata
}

// fuse combines the three signals under the fixed linear blend and
// returns results sorted by combined score descending, ties broken by
// doc_id ascending for determinism.
func fuse(candidates []candidateScore) []*store.SearchResult {
	results := make([]*store.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		combined := weightVectorSim*c.vectorSim + weightJaccard*c.jaccard + weightBM25*c.bm25
		results = append(results, &store.SearchResult{
			DocID:           c.docID,
			SimilarityScore: c.vectorSim,
			JaccardScore:    c.jaccard,
			BM25Score:       c.bm25,
			CombinedScore:   combined,
			Metadata:        c.metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].DocID < results[j].DocID
	})

	return results
}
