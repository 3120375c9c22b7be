package embedder

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/dshills/repoask/internal/httpjson"
	"github.com/dshills/repoask/internal/retry"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default endpoints
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "models/text-embedding-004"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultLocalModel  = "local-hash-v1"

	// Dimensions
	OpenAIDimension = 1536
	GeminiDimension = 768
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 32
	MaxBatchSize     = 100

	// DefaultTimeout bounds a single provider HTTP request
	DefaultTimeout = 30 * time.Second
)

// StatusError is a non-2xx response from a provider API
type StatusError = httpjson.StatusError

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	return httpjson.Post(ctx, client, url, headers, in, out)
}

// batchCaller issues one API request for texts
type batchCaller func(ctx context.Context, texts []string, model string) ([][]float32, error)

// generateCached serves a batch from cache where possible and sends only the
// misses to the provider.
func generateCached(ctx context.Context, provider, defaultModel string, cache *Cache, req BatchEmbeddingRequest, call batchCaller) (*BatchEmbeddingResponse, error) {
	if err := validateBatch(req.Texts); err != nil {
		return nil, retry.Permanent(err)
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missTexts []string
	var missIdx []int
	for i, text := range req.Texts {
		if cache != nil {
			if vec, ok := cache.Get(model, text); ok {
				embeddings[i] = &Embedding{Vector: vec, Dimension: len(vec), Provider: provider, Model: model}
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := call(ctx, missTexts, model)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, retry.Permanent(fmt.Errorf("%w: sent %d texts, got %d vectors", ErrCountMismatch, len(missTexts), len(vectors)))
		}
		for j, vec := range vectors {
			i := missIdx[j]
			if cache != nil {
				cache.Add(model, req.Texts[i], vec)
			}
			embeddings[i] = &Embedding{Vector: vec, Dimension: len(vec), Provider: provider, Model: model}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   provider,
		Model:      model,
	}, nil
}

// generateOne embeds a single text through the batch path
func generateOne(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	if err := validateText(req.Text); err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

// OpenAIProvider implements Embedder against any OpenAI-compatible
// /embeddings endpoint (OpenAI, Jina, self-hosted gateways).
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewOpenAIProvider creates a new OpenAI-compatible embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}

	p := &OpenAIProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultOpenAIBaseURL), "/"),
		model:      orDefault(cfg.Model, DefaultOpenAIModel),
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
		cache:      cache,
	}
	if p.dimension == 0 && p.model == DefaultOpenAIModel {
		p.dimension = OpenAIDimension
	}
	return p, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, o, req)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCached(ctx, ProviderOpenAI, o.model, o.cache, req, o.callAPI)
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/embeddings", headers, reqBody, &apiResp); err != nil {
		return nil, err
	}

	// data entries carry their input index and are not guaranteed to be ordered
	vectors := make([][]float32, len(apiResp.Data))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, retry.Permanent(fmt.Errorf("%w: index %d out of range", ErrProviderFailed, d.Index))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// GeminiProvider implements Embedder using the Gemini batchEmbedContents API
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewGeminiProvider creates a new Gemini embedder
func NewGeminiProvider(cfg Config, cache *Cache) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not set", ErrNoProviderEnabled)
	}

	model := orDefault(cfg.Model, DefaultGeminiModel)
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	p := &GeminiProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultGeminiBaseURL), "/"),
		model:      model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
		cache:      cache,
	}
	if p.dimension == 0 && p.model == DefaultGeminiModel {
		p.dimension = GeminiDimension
	}
	return p, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, g, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCached(ctx, ProviderGemini, g.model, g.cache, req, g.callAPI)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

func (g *GeminiProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	requests := make([]geminiEmbedRequest, len(texts))
	for i, t := range texts {
		requests[i] = geminiEmbedRequest{Model: model, Content: geminiContent{Parts: []geminiPart{{Text: t}}}}
	}

	var apiResp struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}

	url := fmt.Sprintf("%s/%s:batchEmbedContents", g.baseURL, model)
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := postJSON(ctx, g.httpClient, url, headers, map[string]interface{}{"requests": requests}, &apiResp); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(apiResp.Embeddings))
	for i, e := range apiResp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (g *GeminiProvider) Dimension() int {
	return g.dimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider implements Embedder using the Ollama /api/embed endpoint
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewOllamaProvider creates an embedder targeting an Ollama instance
func NewOllamaProvider(cfg Config, cache *Cache) (*OllamaProvider, error) {
	p := &OllamaProvider{
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultOllamaBaseURL), "/"),
		model:      orDefault(cfg.Model, DefaultOllamaModel),
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
		cache:      cache,
	}
	if p.dimension == 0 && p.model == DefaultOllamaModel {
		p.dimension = OllamaDimension
	}
	return p, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, o, req)
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCached(ctx, ProviderOllama, o.model, o.cache, req, o.callAPI)
}

func (o *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	reqBody := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: model, Input: texts}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/embed", nil, reqBody, &apiResp); err != nil {
		return nil, err
	}
	return apiResp.Embeddings, nil
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic hashed bag-of-words vectors. It needs
// no network access and is meant for offline use and tests; texts sharing
// identifiers land close together in cosine space.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cfg Config, cache *Cache) (*LocalProvider, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dim,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	// the local model ignores per-request overrides
	req.Model = ""
	return generateCached(ctx, ProviderLocal, l.model, l.cache, req, l.embed)
}

func (l *LocalProvider) embed(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = HashVector(text, l.dimension)
	}
	return vectors, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// HashVector projects the lowercase word tokens of text into dim buckets
// using signed feature hashing and normalizes the result.
func HashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(tokens) == 0 && text != "" {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		var sum [8]byte
		binary.LittleEndian.PutUint64(sum[:], h.Sum64())
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(dim)
		if sum[4]&1 == 0 {
			vector[bucket]++
		} else {
			vector[bucket]--
		}
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
