package embedder

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateText(t *testing.T) {
	assert.NoError(t, validateText("test text"))
	assert.ErrorIs(t, validateText(""), ErrEmptyText)
}

func TestValidateBatch(t *testing.T) {
	tooMany := make([]string, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = "x"
	}

	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid batch", []string{"text1", "text2", "text3"}, nil},
		{"empty batch", []string{}, ErrInvalidInput},
		{"contains empty text", []string{"text1", "", "text3"}, ErrInvalidInput},
		{"too large", tooMany, ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBatch(tt.texts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := NewCache(3)

		_, ok := cache.Get("m", "missing")
		assert.False(t, ok)

		cache.Add("m", "text", []float32{1, 2, 3})

		got, ok := cache.Get("m", "text")
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, got)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("scoped by model", func(t *testing.T) {
		cache := NewCache(3)
		cache.Add("model-a", "text", []float32{1})

		_, ok := cache.Get("model-b", "text")
		assert.False(t, ok)
	})

	t.Run("entries are copies", func(t *testing.T) {
		cache := NewCache(3)
		vec := []float32{1, 2}
		cache.Add("m", "h", vec)
		vec[1] = 42

		got, _ := cache.Get("m", "h")
		got[0] = 99

		again, _ := cache.Get("m", "h")
		assert.Equal(t, []float32{1, 2}, again)
	})

	t.Run("eviction on capacity", func(t *testing.T) {
		cache := NewCache(2)
		cache.Add("m", "one", []float32{1})
		cache.Add("m", "two", []float32{2})
		cache.Add("m", "three", []float32{3})

		assert.Equal(t, 2, cache.Len())
		_, ok := cache.Get("m", "one")
		assert.False(t, ok)
		_, ok = cache.Get("m", "three")
		assert.True(t, ok)
	})

	t.Run("default size", func(t *testing.T) {
		cache := NewCache(0)
		cache.Add("m", "x", []float32{1})
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					text := strings.Repeat("x", id*100+j+1)
					cache.Add("m", text, []float32{float32(id), float32(j)})
					cache.Get("m", text)
				}
			}(i)
		}
		wg.Wait()
		assert.Greater(t, cache.Len(), 0)
	})
}

func TestLocalProvider(t *testing.T) {
	provider, err := NewLocalProvider(Config{}, NewCache(10))
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()

	t.Run("provider metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, LocalDimension, provider.Dimension())
		assert.Equal(t, DefaultLocalModel, provider.Model())
	})

	t.Run("single embedding", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "def main(): print('hi')"})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, LocalDimension)
		assert.Equal(t, ProviderLocal, emb.Provider)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
	})

	t.Run("batch embedding preserves order", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta", "alpha"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 3)
		assert.Equal(t, resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
		assert.NotEqual(t, resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)
	})

	t.Run("deterministic", func(t *testing.T) {
		other, err := NewLocalProvider(Config{}, nil)
		require.NoError(t, err)
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseRepoID"})
		require.NoError(t, err)
		b, err := other.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func ParseRepoID"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("shared tokens are closer", func(t *testing.T) {
		q := HashVector("how is the retry policy configured", LocalDimension)
		near := HashVector("retry policy configured with backoff", LocalDimension)
		far := HashVector("render the html template header", LocalDimension)
		assert.Greater(t, dot(q, near), dot(q, far))
	})

	t.Run("punctuation only text still embeds", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "{}"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("context cancellation", func(t *testing.T) {
		uncached, err := NewLocalProvider(Config{}, nil)
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = uncached.GenerateEmbedding(cctx, EmbeddingRequest{Text: "test"})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestNormalizeVector(t *testing.T) {
	assert.InDelta(t, 1.0, norm(NormalizeVector([]float32{3, 4})), 1e-6)
	assert.InDelta(t, 1.0, norm(NormalizeVector([]float32{1, 0, 0})), 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, NormalizeVector([]float32{0, 0, 0}))
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
