package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*StaticEmbedder
	calls      int
	batchCalls []int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls = append(c.batchCalls, len(texts))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_CachesRepeatedText(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	cached := NewCachedEmbedderWithDefaults(inner)

	v1, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedder_EmbedBatch_DedupesRepeatedTextWithinOneCall(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	cached := NewCachedEmbedderWithDefaults(inner)

	vecs, err := cached.EmbedBatch(context.Background(), []string{"a", "b", "a", "a"})
	require.NoError(t, err)

	require.Len(t, vecs, 4)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, vecs[0], vecs[3])
	require.Len(t, inner.batchCalls, 1)
	assert.Equal(t, 2, inner.batchCalls[0], "only the 2 distinct texts should reach the inner embedder")
}

func TestCachedEmbedder_EmbedBatch_ReusesCacheFromPriorEmbedCall(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	cached := NewCachedEmbedderWithDefaults(inner)

	_, err := cached.Embed(context.Background(), "warm")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(context.Background(), []string{"warm", "cold"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	require.Len(t, inner.batchCalls, 1)
	assert.Equal(t, 1, inner.batchCalls[0], "warm text should be served from cache, only cold embedded")
}

func TestCachedEmbedder_EmbedBatch_EmptyInput_ReturnsEmptySlice(t *testing.T) {
	cached := NewCachedEmbedderWithDefaults(NewStaticEmbedder(32))

	vecs, err := cached.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCachedEmbedder_PassesThroughMetadata(t *testing.T) {
	inner := NewStaticEmbedder(32)
	cached := NewCachedEmbedderWithDefaults(inner)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
}
