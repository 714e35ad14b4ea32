package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	a := ComputeHash("m", "hello world")
	assert.Len(t, a, 64)
	assert.Equal(t, a, ComputeHash("m", "hello world"))
	assert.NotEqual(t, a, ComputeHash("other", "hello world"), "model is part of the key")
	assert.NotEqual(t, ComputeHash("ab", "c"), ComputeHash("a", "bc"))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{name: "valid", texts: []string{"a", "b"}},
		{name: "empty batch", texts: nil, wantErr: ErrInvalidInput},
		{name: "empty text", texts: []string{"a", ""}, wantErr: ErrInvalidInput},
		{name: "too large", texts: make([]string, MaxBatchSize+1), wantErr: ErrBatchTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	c.Set("a", &Embedding{Vector: []float32{1, 2}})
	c.Set("b", &Embedding{Vector: []float32{3}})

	got, ok := c.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99

	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again.Vector[0], "Get returns a copy")

	c.Set("c", &Embedding{})
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	assert.Equal(t, 2, c.Size())

	c.Clear()
	assert.Zero(t, c.Size())
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(16, NewCache(10))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, 16, p.Dimension())

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta", "alpha"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, 1, resp.CacheHits)

	for _, emb := range resp.Embeddings {
		require.Len(t, emb.Vector, 16)
		var norm float64
		for _, x := range emb.Vector {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
	assert.Equal(t, resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
	assert.NotEqual(t, resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)

	// A fresh provider with no cache produces the same vector
	fresh, err := NewLocalProvider(16, nil)
	require.NoError(t, err)
	emb, err := fresh.GenerateEmbedding(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, resp.Embeddings[0].Vector, emb.Vector)
}

func TestLocalProvider_DefaultDimension(t *testing.T) {
	p, err := NewLocalProvider(0, nil)
	require.NoError(t, err)
	assert.Equal(t, OpenAIDimension, p.Dimension())
}

func TestLocalProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := NewLocalProvider(4, nil)
	_, err := p.GenerateEmbedding(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
