package store

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

const (
	pqDefaultSubspaces  = 8
	pqBitsPerSubspace   = 8 // 256 centroids per subspace
	pqMinTrainSamples   = 256
	pqKMeansIterations  = 25
)

// ProductQuantizer trains once on the corpus vectors and emits compact
// byte codes per vector. It exists to bound memory footprint and is
// never consulted by the query path (§9 "PQ role"): search always scores
// against the full-precision stored vector.
type ProductQuantizer struct {
	mu sync.RWMutex

	Dimension       int
	NumSubspaces    int
	BitsPerSubspace int

	trained     bool
	subDim      int          // Dimension / NumSubspaces
	centroids   [][][]float32 // [subspace][centroidIdx][subDim]
}

// NewProductQuantizer creates a quantizer for the given vector dimension.
func NewProductQuantizer(dimension int) *ProductQuantizer {
	subspaces := pqDefaultSubspaces
	for dimension%subspaces != 0 && subspaces > 1 {
		subspaces--
	}
	return &ProductQuantizer{
		Dimension:       dimension,
		NumSubspaces:    subspaces,
		BitsPerSubspace: pqBitsPerSubspace,
		subDim:          dimension / subspaces,
	}
}

// Trained reports whether Train has produced a usable codebook.
func (pq *ProductQuantizer) Trained() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.trained
}

// Train fits per-subspace codebooks via Lloyd's algorithm k-means. It
// requires at least pqMinTrainSamples vectors; callers with fewer may
// skip PQ entirely and still satisfy search correctness.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) < pqMinTrainSamples {
		return fmt.Errorf("product quantizer needs at least %d vectors to train, got %d", pqMinTrainSamples, len(vectors))
	}

	pq.mu.Lock()
	defer pq.mu.Unlock()

	k := 1 << pq.BitsPerSubspace
	if k > len(vectors) {
		k = len(vectors)
	}

	centroids := make([][][]float32, pq.NumSubspaces)
	for s := 0; s < pq.NumSubspaces; s++ {
		sub := extractSubspace(vectors, s, pq.subDim)
		centroids[s] = kMeans(sub, k, pqKMeansIterations)
	}

	pq.centroids = centroids
	pq.trained = true
	return nil
}

func extractSubspace(vectors [][]float32, subspace, subDim int) [][]float32 {
	start := subspace * subDim
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		seg := make([]float32, subDim)
		copy(seg, v[start:start+subDim])
		out[i] = seg
	}
	return out
}

// kMeans runs Lloyd's algorithm seeded with a deterministic RNG.
func kMeans(points [][]float32, k, iterations int) [][]float32 {
	rng := rand.New(rand.NewSource(42))
	centroids := make([][]float32, k)
	for i := range centroids {
		src := points[rng.Intn(len(points))]
		c := make([]float32, len(src))
		copy(c, src)
		centroids[i] = c
	}

	assignments := make([]int, len(points))
	for iter := 0; iter < iterations; iter++ {
		for i, p := range points {
			assignments[i] = nearestCentroid(p, centroids)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, len(centroids[0]))
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += float64(v)
			}
		}

		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}

	return centroids
}

func nearestCentroid(p []float32, centroids [][]float32) int {
	best, bestDist := 0, math.MaxFloat64
	for i, c := range centroids {
		dist := squaredDistance(p, c)
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Encode maps vector to one centroid index per subspace. Deterministic
// once trained.
func (pq *ProductQuantizer) Encode(vector []float32) ([]byte, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return nil, fmt.Errorf("product quantizer is not trained")
	}
	if len(vector) != pq.Dimension {
		return nil, ErrDimensionMismatch{Expected: pq.Dimension, Got: len(vector)}
	}

	code := make([]byte, pq.NumSubspaces)
	for s := 0; s < pq.NumSubspaces; s++ {
		start := s * pq.subDim
		seg := vector[start : start+pq.subDim]
		code[s] = byte(nearestCentroid(seg, pq.centroids[s]))
	}
	return code, nil
}

type pqSnapshot struct {
	Dimension       int
	NumSubspaces    int
	BitsPerSubspace int
	Trained         bool
	Centroids       [][][]float32
}

// Save writes {dimension, num_subspaces, bits_per_subspace, trained,
// centroids} as raw floats with their shape, per §4.G. It writes nothing
// (and callers should skip the file) if the quantizer was never trained.
func (pq *ProductQuantizer) Save(path string) error {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	snap := pqSnapshot{
		Dimension:       pq.Dimension,
		NumSubspaces:    pq.NumSubspaces,
		BitsPerSubspace: pq.BitsPerSubspace,
		Trained:         pq.trained,
		Centroids:       pq.centroids,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode pq snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously trained quantizer. Absence of the file is
// not an error at the caller level — the engine may operate without PQ.
func (pq *ProductQuantizer) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pq file: %w", err)
	}
	defer file.Close()

	var snap pqSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode pq snapshot: %w", err)
	}

	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.Dimension = snap.Dimension
	pq.NumSubspaces = snap.NumSubspaces
	pq.BitsPerSubspace = snap.BitsPerSubspace
	pq.trained = snap.Trained
	pq.centroids = snap.Centroids
	pq.subDim = snap.Dimension / snap.NumSubspaces
	return nil
}
