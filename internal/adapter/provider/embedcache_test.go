package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	texts [][]string
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	c.calls++
	c.texts = append(c.texts, texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}

func TestEmbedCacheServesRepeatsFromCache(t *testing.T) {
	base := &countingEmbedder{}
	cache := NewEmbedCache(base, 8)

	first, err := cache.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	second, err := cache.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, base.calls, "repeat batch must not reach the base embedder")
}

func TestEmbedCacheBatchesOnlyMisses(t *testing.T) {
	base := &countingEmbedder{}
	cache := NewEmbedCache(base, 8)

	_, err := cache.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	res, err := cache.Embed(context.Background(), []string{"alpha", "gamma"})
	require.NoError(t, err)

	require.Len(t, res, 2)
	assert.Equal(t, []float64{5}, res[0])
	assert.Equal(t, []float64{5}, res[1])
	require.Equal(t, 2, base.calls)
	assert.Equal(t, []string{"gamma"}, base.texts[1], "only the miss goes to the base embedder")
}

func TestEmbedCacheEvictsOldestBeyondCapacity(t *testing.T) {
	base := &countingEmbedder{}
	cache := NewEmbedCache(base, 1)

	_, err := cache.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	_, err = cache.Embed(context.Background(), []string{"beta"})
	require.NoError(t, err)
	_, err = cache.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	assert.Equal(t, 3, base.calls, "alpha was evicted by beta and must re-embed")
}

func TestEmbedCacheZeroCapacityIsPassthrough(t *testing.T) {
	base := &countingEmbedder{}
	assert.Same(t, base, NewEmbedCache(base, 0))
}
