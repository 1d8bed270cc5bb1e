package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ANNIndex implements VectorStore over coder/hnsw, a pure-Go HNSW graph.
// Vectors are L2-normalized before insertion so cosine distance reduces
// to inner product.
type ANNIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64 // string ID -> internal key
	keyMap  map[uint64]string // internal key -> string ID
	nextKey uint64

	closed bool
}

// annMetadata is the header written ahead of the graph export in the
// on-disk file: everything needed to rebuild idMap/keyMap and reconstruct
// a graph with the same distance function and tuning.
type annMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewANNIndex creates a new HNSW-backed ANN index.
func NewANNIndex(cfg VectorStoreConfig) (*ANNIndex, error) {
	cfg = withGraphDefaults(cfg)

	return &ANNIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// withGraphDefaults fills in the tuning knobs a caller left at zero. M=32
// and EfSearch=64 trade extra memory and build time for the recall headroom
// small corpora need, favoring ANNCandidateK=100-sized candidate pulls over
// raw query latency.
func withGraphDefaults(cfg VectorStoreConfig) VectorStoreConfig {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	return cfg
}

// newGraph constructs a coder/hnsw graph wired to cfg's distance metric
// and tuning. Used both for a fresh index and to rebuild one from a
// decoded metadata header on Load.
func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // fixed level generation factor; 1/ln(M) would be ~0.29 at M=32

	return graph
}

// Add appends normalized vectors, extending the parallel doc_ids list.
// If an ID already exists its old graph node is orphaned (lazy deletion)
// rather than removed in place — deleting the last node in coder/hnsw
// corrupts the graph, so the tombstone discipline applies here too.
func (s *ANNIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search runs HNSW and returns the top-k nearest neighbors to query.
func (s *ANNIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeInPlace(normalized)
	}

	nodes := s.graph.Search(normalized, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // tombstoned node: lazily deleted, not a real hit
		}

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	return results, nil
}

// Delete tombstones ids by unmapping them; the underlying graph nodes
// remain in place. See §4.A/§9: the ANN index has no in-place delete.
func (s *ANNIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}

	return nil
}

// AllIDs returns all live (non-tombstoned) vector IDs.
func (s *ANNIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether id is live in the index.
func (s *ANNIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *ANNIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Stats reports live/orphan node counts for tombstone-threshold decisions.
func (s *ANNIndex) Stats() ANNStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ANNStats{}
	}

	valid := len(s.idMap)
	nodes := s.graph.Len()
	return ANNStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
}

// Save writes a single file: a length-prefixed gob header (ID mappings
// plus the config needed to rebuild the graph's distance function and
// tuning) immediately followed by the library's native graph export. The
// whole thing is written to a temp file and renamed into place, so a
// reader never observes a half-written file.
func (s *ANNIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var headerBuf bytes.Buffer
	meta := annMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(&headerBuf).Encode(meta); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, uint32(headerBuf.Len())); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := file.Write(headerBuf.Bytes()); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write header: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return nil
}

// Load restores the graph and its ID mappings from a file written by
// Save. The header and graph are decoded into a fresh, unattached graph
// first; s's own state is only overwritten once both decode cleanly, so a
// truncated or corrupt file leaves the index exactly as it was before the
// call.
func (s *ANNIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file) // coder/hnsw Import requires io.ByteReader

	var headerLen uint32
	if err := binary.Read(reader, binary.LittleEndian, &headerLen); err != nil {
		return fmt.Errorf("read header length: %w", err)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	var meta annMetadata
	if err := gob.NewDecoder(bytes.NewReader(headerBytes)).Decode(&meta); err != nil {
		return fmt.Errorf("decode header: %w", err)
	}

	graph := newGraph(withGraphDefaults(meta.Config))
	if err := graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	keyMap := make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		keyMap[key] = id
	}

	s.idMap = meta.IDMap
	s.keyMap = keyMap
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.graph = graph

	return nil
}

// Close releases resources. coder/hnsw's Graph needs no explicit cleanup.
func (s *ANNIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorStore = (*ANNIndex)(nil)

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance into a 0-1 similarity score.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
