package store

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		vectors[i] = v
	}
	return vectors
}

func TestProductQuantizer_NotTrainedByDefault(t *testing.T) {
	pq := NewProductQuantizer(16)
	assert.False(t, pq.Trained())
}

func TestProductQuantizer_Train_RequiresMinimumSamples(t *testing.T) {
	pq := NewProductQuantizer(16)
	err := pq.Train(randomVectors(10, 16))
	assert.Error(t, err)
	assert.False(t, pq.Trained())
}

func TestProductQuantizer_Train_ThenEncodeIsDeterministic(t *testing.T) {
	pq := NewProductQuantizer(16)
	require.NoError(t, pq.Train(randomVectors(300, 16)))
	assert.True(t, pq.Trained())

	v := randomVectors(1, 16)[0]
	code1, err := pq.Encode(v)
	require.NoError(t, err)
	code2, err := pq.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, code1, code2)
	assert.Len(t, code1, pq.NumSubspaces)
}

func TestProductQuantizer_Encode_BeforeTrainFails(t *testing.T) {
	pq := NewProductQuantizer(16)
	_, err := pq.Encode(randomVectors(1, 16)[0])
	assert.Error(t, err)
}

func TestProductQuantizer_Encode_DimensionMismatch(t *testing.T) {
	pq := NewProductQuantizer(16)
	require.NoError(t, pq.Train(randomVectors(300, 16)))

	_, err := pq.Encode([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestProductQuantizer_SaveLoad_RoundTrips(t *testing.T) {
	pq := NewProductQuantizer(16)
	require.NoError(t, pq.Train(randomVectors(300, 16)))

	path := filepath.Join(t.TempDir(), "pq.bin")
	require.NoError(t, pq.Save(path))

	loaded := NewProductQuantizer(16)
	require.NoError(t, loaded.Load(path))
	assert.True(t, loaded.Trained())

	v := randomVectors(1, 16)[0]
	original, err := pq.Encode(v)
	require.NoError(t, err)
	restored, err := loaded.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestProductQuantizer_Save_UntrainedIsNoop(t *testing.T) {
	pq := NewProductQuantizer(16)
	path := filepath.Join(t.TempDir(), "pq.bin")
	require.NoError(t, pq.Save(path))

	_, err := loadFileErr(path)
	assert.Error(t, err, "untrained quantizer should not write a file")
}

func loadFileErr(path string) (struct{}, error) {
	pq := NewProductQuantizer(1)
	return struct{}{}, pq.Load(path)
}
