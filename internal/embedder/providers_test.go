package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoask/internal/retry"
)

func TestOpenAIProvider(t *testing.T) {
	var mu sync.Mutex
	callCount := 0
	var lastInput []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		lastInput = body.Input
		mu.Unlock()

		// answer out of order to exercise index handling
		data := make([]map[string]interface{}, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"index":     i,
				"embedding": []float32{float32(i), 1, 0},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": body.Model, "data": data})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL + "/v1/", Model: "jina-embeddings-v3", Dimension: 3}, NewCache(10))
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()

	resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	for i, emb := range resp.Embeddings {
		assert.Equal(t, float32(i), emb.Vector[0])
		assert.Equal(t, ProviderOpenAI, emb.Provider)
		assert.Equal(t, "jina-embeddings-v3", emb.Model)
	}

	// cached texts are not sent again
	resp, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"b", "d"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	mu.Lock()
	assert.Equal(t, []string{"d"}, lastInput)
	assert.Equal(t, 2, callCount)
	mu.Unlock()

	assert.Equal(t, 3, provider.Dimension())
	assert.Equal(t, "jina-embeddings-v3", provider.Model())
}

func TestOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestOpenAIProvider_DefaultDimension(t *testing.T) {
	p, err := NewOpenAIProvider(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OpenAIDimension, p.Dimension())
	assert.Equal(t, DefaultOpenAIModel, p.Model())

	custom, err := NewOpenAIProvider(Config{APIKey: "k", Model: "something-else"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, custom.Dimension())
}

func TestGeminiProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/text-embedding-004:batchEmbedContents", r.URL.Path)
		assert.Equal(t, "gem-key", r.Header.Get("x-goog-api-key"))

		var body struct {
			Requests []struct {
				Model   string `json:"model"`
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 2)
		assert.Equal(t, "models/text-embedding-004", body.Requests[0].Model)
		assert.Equal(t, "first", body.Requests[0].Content.Parts[0].Text)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{1, 0}},
				{"values": []float32{0, 1}},
			},
		})
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(Config{APIKey: "gem-key", BaseURL: server.URL + "/v1", Model: "text-embedding-004"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiModel, provider.Model())
	assert.Equal(t, GeminiDimension, provider.Dimension())

	resp, err := provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"first", "second"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{0, 1}, resp.Embeddings[1].Vector)
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultOllamaModel, body.Model)

		out := make([][]float32, len(body.Input))
		for i := range out {
			out[i] = []float32{0.5, 0.5}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": out})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	emb, err := provider.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, emb.Vector)
	assert.Equal(t, ProviderOllama, provider.Provider())
}

func TestProviderStatusErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"request timeout", http.StatusRequestTimeout, false},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			provider, err := NewOllamaProvider(Config{BaseURL: server.URL}, nil)
			require.NoError(t, err)

			_, err = provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x"}})
			require.Error(t, err)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Body)
			assert.Equal(t, tt.wantPermanent, retry.IsPermanent(err))
		})
	}
}

func TestProviderCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": [][]float32{{1}}})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = provider.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	assert.ErrorIs(t, err, ErrCountMismatch)
	assert.True(t, retry.IsPermanent(err))
}
