package store

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// LSHHashes is the minhash signature width (H).
	LSHHashes = 128
	// LSHBands is the number of bands the signature is split into (B).
	LSHBands = 16
	// lshRows is rows per band (R = H/B).
	lshRows = LSHHashes / LSHBands
)

// LSHIndex produces candidate document sets via MinHash signatures split
// into banded buckets, and estimates Jaccard similarity from signature
// agreement (§9 Open Question: signature-based estimate, not exact
// Jaccard over raw token sets — chosen so the index need not retain raw
// feature sets per document).
type LSHIndex struct {
	mu sync.RWMutex

	h int
	b int
	r int

	signatures map[string][]uint64   // doc_id -> H-length minhash signature
	buckets    []map[uint64][]string // one bucket map per band
}

// NewLSHIndex creates an LSH index with the fixed H=128/B=16 shape.
func NewLSHIndex() *LSHIndex {
	buckets := make([]map[uint64][]string, LSHBands)
	for i := range buckets {
		buckets[i] = make(map[uint64][]string)
	}
	return &LSHIndex{
		h:          LSHHashes,
		b:          LSHBands,
		r:          lshRows,
		signatures: make(map[string][]uint64),
		buckets:    buckets,
	}
}

// signature computes the H-value minhash signature of a feature set,
// hashing each feature with H independent seeded permutations.
func (l *LSHIndex) signature(features map[string]struct{}) []uint64 {
	sig := make([]uint64, l.h)
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	var buf [8]byte
	for feature := range features {
		for perm := 0; perm < l.h; perm++ {
			binary.LittleEndian.PutUint64(buf[:], uint64(perm))
			hasher := xxhash.New()
			hasher.Write(buf[:])
			hasher.Write([]byte(feature))
			h := hasher.Sum64()
			if h < sig[perm] {
				sig[perm] = h
			}
		}
	}
	return sig
}

// bandKey hashes the R rows of band i into a single bucket key.
func bandKey(sig []uint64, band, rows int) uint64 {
	hasher := xxhash.New()
	var buf [8]byte
	start := band * rows
	for i := 0; i < rows; i++ {
		binary.LittleEndian.PutUint64(buf[:], sig[start+i])
		hasher.Write(buf[:])
	}
	return hasher.Sum64()
}

// AddDocument computes docID's signature and inserts it into one bucket
// per band.
func (l *LSHIndex) AddDocument(docID string, features map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, exists := l.signatures[docID]; exists {
		l.removeFromBucketsLocked(docID, old)
	}

	sig := l.signature(features)
	l.signatures[docID] = sig

	for band := 0; band < l.b; band++ {
		key := bandKey(sig, band, l.r)
		l.buckets[band][key] = append(l.buckets[band][key], docID)
	}
}

func (l *LSHIndex) removeFromBucketsLocked(docID string, sig []uint64) {
	for band := 0; band < l.b; band++ {
		key := bandKey(sig, band, l.r)
		bucket := l.buckets[band][key]
		for i, id := range bucket {
			if id == docID {
				l.buckets[band][key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(l.buckets[band][key]) == 0 {
			delete(l.buckets[band], key)
		}
	}
}

// RemoveDocument removes docID from every band bucket.
func (l *LSHIndex) RemoveDocument(docID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sig, exists := l.signatures[docID]
	if !exists {
		return
	}
	l.removeFromBucketsLocked(docID, sig)
	delete(l.signatures, docID)
}

// QueryCandidates returns the union of docs sharing a bucket with the
// query's signature in any band, preferring docs in more bands and
// breaking further ties by doc_id when truncating to cap.
func (l *LSHIndex) QueryCandidates(features map[string]struct{}, cap int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sig := l.signature(features)

	collisions := make(map[string]int)
	for band := 0; band < l.b; band++ {
		key := bandKey(sig, band, l.r)
		for _, id := range l.buckets[band][key] {
			collisions[id]++
		}
	}

	type candidate struct {
		id    string
		bands int
	}
	candidates := make([]candidate, 0, len(collisions))
	for id, count := range collisions {
		candidates = append(candidates, candidate{id: id, bands: count})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].bands != candidates[j].bands {
			return candidates[i].bands > candidates[j].bands
		}
		return candidates[i].id < candidates[j].id
	})

	if cap > 0 && len(candidates) > cap {
		candidates = candidates[:cap]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// JaccardSimilarity estimates Jaccard(doc, query) as the fraction of
// signature positions that agree between the stored signature and a
// freshly computed query signature. Build and query both go through this
// estimator, so consistency holds even though it is an approximation.
func (l *LSHIndex) JaccardSimilarity(docID string, queryFeatures map[string]struct{}) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored, exists := l.signatures[docID]
	if !exists {
		return 0
	}

	querySig := l.signature(queryFeatures)
	agree := 0
	for i := range stored {
		if stored[i] == querySig[i] {
			agree++
		}
	}
	return float64(agree) / float64(l.h)
}

// LSHSnapshot is the exported, serializable state of an LSHIndex, used by
// the persistence layer to fold LSH state into a single combined file
// alongside the engine's other non-ANN, non-PQ state.
type LSHSnapshot struct {
	H          int
	B          int
	Signatures map[string][]uint64
}

// Snapshot returns the index's current signatures; band buckets are
// rebuildable from them and are not included.
func (l *LSHIndex) Snapshot() LSHSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LSHSnapshot{H: l.h, B: l.b, Signatures: l.signatures}
}

// Restore replaces the index's signatures with a previously captured
// snapshot and rebuilds the band buckets from them.
func (l *LSHIndex) Restore(snap LSHSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if snap.H == 0 {
		snap.H = LSHHashes
	}
	if snap.B == 0 {
		snap.B = LSHBands
	}
	l.h, l.b, l.r = snap.H, snap.B, snap.H/snap.B
	if snap.Signatures == nil {
		snap.Signatures = make(map[string][]uint64)
	}
	l.signatures = snap.Signatures

	l.buckets = make([]map[uint64][]string, l.b)
	for i := range l.buckets {
		l.buckets[i] = make(map[uint64][]string)
	}
	for docID, sig := range l.signatures {
		for band := 0; band < l.b; band++ {
			key := bandKey(sig, band, l.r)
			l.buckets[band][key] = append(l.buckets[band][key], docID)
		}
	}
}

type lshSnapshot struct {
	H          int
	B          int
	Signatures map[string][]uint64
}

// Save gob-encodes signatures to path; buckets are rebuilt on Load.
func (l *LSHIndex) Save(path string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	snap := lshSnapshot{H: l.h, B: l.b, Signatures: l.signatures}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode lsh snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores signatures from path and rebuilds band buckets.
func (l *LSHIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open lsh file: %w", err)
	}
	defer file.Close()

	var snap lshSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode lsh snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.h, l.b, l.r = snap.H, snap.B, snap.H/snap.B
	l.signatures = snap.Signatures
	l.buckets = make([]map[uint64][]string, l.b)
	for i := range l.buckets {
		l.buckets[i] = make(map[uint64][]string)
	}
	for docID, sig := range l.signatures {
		for band := 0; band < l.b; band++ {
			key := bandKey(sig, band, l.r)
			l.buckets[band][key] = append(l.buckets[band][key], docID)
		}
	}

	return nil
}
