package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("invalid embedding input")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrUnsupportedModel  = errors.New("unsupported embedding provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrCountMismatch     = errors.New("embedding count mismatch")
)

// DefaultCacheSize is the vector cache capacity when none is configured
const DefaultCacheSize = 10000

// Embedding is one vector and the model that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest asks for the vector of a single text, usually a question
type EmbeddingRequest struct {
	Text  string
	Model string // empty = provider default
}

// BatchEmbeddingRequest asks for one vector per text
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // empty = provider default
}

// BatchEmbeddingResponse holds vectors in request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is an embedding model. Implementations make a single attempt per
// call; retries belong to the Orchestrator.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch returns exactly one embedding per text, in input order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is 0 when the provider only learns it from the first response
	Dimension() int

	Provider() string
	Model() string
	Close() error
}

// Cache memoizes vectors by model and text. Callers receive copies, so
// entries never change once added.
type Cache struct {
	entries *lru.Cache[[sha256.Size]byte, []float32]
}

// NewCache creates a cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[[sha256.Size]byte, []float32](size)
	if err != nil {
		entries, _ = lru.New[[sha256.Size]byte, []float32](DefaultCacheSize)
	}
	return &Cache{entries: entries}
}

// Get returns a copy of the vector cached for text under model
func (c *Cache) Get(model, text string) ([]float32, bool) {
	vec, ok := c.entries.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

// Add caches vec for text under model
func (c *Cache) Add(model, text string, vec []float32) {
	c.entries.Add(cacheKey(model, text), append([]float32(nil), vec...))
}

// Len reports the number of cached vectors
func (c *Cache) Len() int {
	return c.entries.Len()
}

// cacheKey scopes a text to the model so switching models never serves a
// vector from another space
func cacheKey(model, text string) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))

	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

func validateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	return nil
}

func validateBatch(texts []string) error {
	switch {
	case len(texts) == 0:
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	case len(texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d texts, max %d allowed", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
