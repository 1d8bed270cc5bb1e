package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// posting is a single document's term-frequency table and length.
type posting struct {
	TermFreq map[string]int
	Length   int
}

// KeywordIndex is a hand-rolled Okapi BM25 scorer. It exposes its raw
// df/corpus-size/avg-doc-length bookkeeping directly, which the §8
// invariants require and which an opaque full-text engine would hide.
type KeywordIndex struct {
	mu sync.RWMutex

	postings     map[string]*posting
	df           map[string]int
	corpusSize   int
	totalLength  int
	closed       bool
}

// NewKeywordIndex creates an empty BM25 index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		postings: make(map[string]*posting),
		df:       make(map[string]int),
	}
}

// Index adds (or replaces) documents in the index.
func (k *KeywordIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		if existing, ok := k.postings[doc.ID]; ok {
			k.removePostingLocked(doc.ID, existing)
		}
		k.addPostingLocked(doc.ID, doc.Text())
	}

	return nil
}

func (k *KeywordIndex) addPostingLocked(id, text string) {
	tf := make(map[string]int)
	tokens := Tokenize(text)
	for _, tok := range tokens {
		tf[tok]++
	}

	p := &posting{TermFreq: tf, Length: len(tokens)}
	k.postings[id] = p
	k.corpusSize++
	k.totalLength += p.Length

	for term := range tf {
		k.df[term]++
	}
}

func (k *KeywordIndex) removePostingLocked(id string, p *posting) {
	delete(k.postings, id)
	k.corpusSize--
	k.totalLength -= p.Length

	for term := range p.TermFreq {
		k.df[term]--
		if k.df[term] <= 0 {
			delete(k.df, term)
		}
	}
}

// avgDocLength returns the mean posting length, recomputed from live
// state (§3 invariant 2).
func (k *KeywordIndex) avgDocLength() float64 {
	if k.corpusSize == 0 {
		return 0
	}
	return float64(k.totalLength) / float64(k.corpusSize)
}

// Score computes the Okapi BM25 score of docID against query.
func (k *KeywordIndex) Score(docID, query string) float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.scoreLocked(docID, query)
}

func (k *KeywordIndex) scoreLocked(docID, query string) float64 {
	p, ok := k.postings[docID]
	if !ok {
		return 0
	}

	avgLen := k.avgDocLength()
	var score float64

	seen := make(map[string]struct{})
	for _, term := range Tokenize(query) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		tf, inDoc := p.TermFreq[term]
		if !inDoc {
			continue
		}

		df := k.df[term]
		idf := math.Log((float64(k.corpusSize-df)+0.5)/(float64(df)+0.5) + 1)

		numerator := float64(tf) * (bm25K1 + 1)
		denominator := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(p.Length)/avgLen)
		score += idf * numerator / denominator
	}

	return score
}

// Search scores every indexed document against query and returns the top
// `limit` by descending score.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("index is closed")
	}

	results := make([]*BM25Result, 0, len(k.postings))
	for id := range k.postings {
		score := k.scoreLocked(id, query)
		if score > 0 {
			results = append(results, &BM25Result{DocID: id, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes documents from the index, updating df/corpus-size/
// avg-doc-length.
func (k *KeywordIndex) Delete(ctx context.Context, docIDs []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range docIDs {
		if p, ok := k.postings[id]; ok {
			k.removePostingLocked(id, p)
		}
	}
	return nil
}

// AllIDs returns every indexed document ID.
func (k *KeywordIndex) AllIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := make([]string, 0, len(k.postings))
	for id := range k.postings {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports corpus-wide bookkeeping.
func (k *KeywordIndex) Stats() IndexStats {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return IndexStats{
		DocumentCount: k.corpusSize,
		TermCount:     len(k.df),
		AvgDocLength:  k.avgDocLength(),
	}
}

// DocumentFrequency returns df[term] — the number of postings containing
// term, exposed directly for §8 invariant 1.
func (k *KeywordIndex) DocumentFrequency(term string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.df[term]
}

type bm25Snapshot struct {
	Postings   map[string]*posting
	DF         map[string]int
	CorpusSize int
	TotalLength int
}

// Save gob-encodes the index state to path.
func (k *KeywordIndex) Save(path string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	snap := bm25Snapshot{
		Postings:    k.postings,
		DF:          k.df,
		CorpusSize:  k.corpusSize,
		TotalLength: k.totalLength,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode bm25 snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores state from a gob-encoded file written by Save.
func (k *KeywordIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bm25 file: %w", err)
	}
	defer file.Close()

	var snap bm25Snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode bm25 snapshot: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.postings = snap.Postings
	k.df = snap.DF
	k.corpusSize = snap.CorpusSize
	k.totalLength = snap.TotalLength
	return nil
}

// Close marks the index unusable. There is no underlying resource to
// release — state lives in memory and on disk via Save/Load.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

// BM25Snapshot is the exported, serializable state of a KeywordIndex, used
// by the persistence layer to fold BM25 state into a single combined file
// alongside the engine's other non-ANN, non-PQ state.
type BM25Snapshot struct {
	Postings    map[string]*posting
	DF          map[string]int
	CorpusSize  int
	TotalLength int
}

// Snapshot returns a copy-free view of the index's current state.
func (k *KeywordIndex) Snapshot() BM25Snapshot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return BM25Snapshot{
		Postings:    k.postings,
		DF:          k.df,
		CorpusSize:  k.corpusSize,
		TotalLength: k.totalLength,
	}
}

// Restore replaces the index's state with a previously captured snapshot.
func (k *KeywordIndex) Restore(snap BM25Snapshot) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if snap.Postings == nil {
		snap.Postings = make(map[string]*posting)
	}
	if snap.DF == nil {
		snap.DF = make(map[string]int)
	}
	k.postings = snap.Postings
	k.df = snap.DF
	k.corpusSize = snap.CorpusSize
	k.totalLength = snap.TotalLength
}

var _ BM25Index = (*KeywordIndex)(nil)
