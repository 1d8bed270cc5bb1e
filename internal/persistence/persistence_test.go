package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/hybridcore/internal/store"
)

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a valid gob stream"), 0o644)
}

func newBundle(t *testing.T) Bundle {
	t.Helper()

	ann, err := store.NewANNIndex(store.DefaultVectorStoreConfig(4))
	require.NoError(t, err)

	bm25 := store.NewKeywordIndex()
	lsh := store.NewLSHIndex()
	pq := store.NewProductQuantizer(4)

	return Bundle{
		ANN:          ann,
		BM25:         bm25,
		LSH:          lsh,
		PQ:           pq,
		Vectors:      map[string][]float32{},
		PQCodes:      map[string][]byte{},
		Metadata:     map[string]*store.Metadata{},
		TextFeatures: map[string]map[string]struct{}{},
	}
}

func seedBundle(t *testing.T, b Bundle) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.ANN.Add(ctx, []string{"doc-1"}, [][]float32{{1, 0, 0, 0}}))

	doc := &store.Document{ID: "doc-1", Name: "Ada", Description: "rust systems engineer"}
	require.NoError(t, b.BM25.Index(ctx, []*store.Document{doc}))

	features := doc.TextFeatures()
	b.LSH.AddDocument("doc-1", features)

	b.Vectors["doc-1"] = []float32{1, 0, 0, 0}
	b.Metadata["doc-1"] = &store.Metadata{Name: "Ada"}
	b.TextFeatures["doc-1"] = features
}

func TestSaveThenLoad_RestoresANNBM25AndLSHState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	saved := newBundle(t)
	seedBundle(t, saved)

	require.NoError(t, Save(ctx, dir, saved))

	loaded := newBundle(t)
	require.NoError(t, Load(ctx, dir, nil, loaded))

	assert.True(t, loaded.ANN.Contains("doc-1"))
	assert.Equal(t, 1, loaded.BM25.Stats().DocumentCount)
	assert.Equal(t, []float32{1, 0, 0, 0}, loaded.Vectors["doc-1"])
	assert.Equal(t, "Ada", loaded.Metadata["doc-1"].Name)
	assert.NotEmpty(t, loaded.TextFeatures["doc-1"])
}

func TestSave_SkipsPQFileWhenQuantizerUntrained(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := newBundle(t)
	seedBundle(t, b)
	require.NoError(t, Save(ctx, dir, b))

	assert.NoFileExists(t, filepath.Join(dir, pqFileName))
	assert.FileExists(t, filepath.Join(dir, annFileName))
	assert.FileExists(t, filepath.Join(dir, otherFileName))
}

func TestLoad_OnEmptyDirectory_IsNotAnError(t *testing.T) {
	dir := t.TempDir()
	b := newBundle(t)

	err := Load(context.Background(), dir, nil, b)

	assert.NoError(t, err)
	assert.Equal(t, 0, b.ANN.Count())
}

// A corrupt other_data.bin is caught and logged, not returned — the
// auxiliary members are simply left empty, same as if no save had ever
// happened for them. The ANN file saved alongside it is unaffected since
// each file is decoded independently.
func TestLoad_OnCorruptAuxiliaryFile_LeavesAuxiliaryStateEmptyWithoutError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := newBundle(t)
	seedBundle(t, b)
	require.NoError(t, Save(ctx, dir, b))

	require.NoError(t, writeGarbage(filepath.Join(dir, otherFileName)))

	loaded := newBundle(t)
	err := Load(ctx, dir, nil, loaded)

	require.NoError(t, err)
	assert.True(t, loaded.ANN.Contains("doc-1"))
	assert.Empty(t, loaded.Vectors)
	assert.Empty(t, loaded.Metadata)
	assert.Equal(t, 0, loaded.BM25.Stats().DocumentCount)
}

func TestLoad_OnCorruptANNFile_LeavesANNEmptyWithoutError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := newBundle(t)
	seedBundle(t, b)
	require.NoError(t, Save(ctx, dir, b))

	require.NoError(t, writeGarbage(filepath.Join(dir, annFileName)))

	loaded := newBundle(t)
	err := Load(ctx, dir, nil, loaded)

	require.NoError(t, err)
	assert.Equal(t, 0, loaded.ANN.Count())
	assert.NotEmpty(t, loaded.Vectors)
}

func TestSave_RejectsAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Save(ctx, t.TempDir(), newBundle(t))

	assert.Error(t, err)
}
