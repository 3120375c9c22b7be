package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when a vector does not match the
// dimension already stored in a namespace.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata is stored alongside each vector. LineStart and LineEnd are zero
// when the chunk carries no line information.
type Metadata struct {
	Path        string
	LineStart   int
	LineEnd     int
	ContentHash string
	Content     string
}

// HasLines reports whether the metadata describes a valid line range
func (m Metadata) HasLines() bool {
	return m.LineStart > 0 && m.LineEnd >= m.LineStart
}

// Record is one vector to upsert
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Hit is one search result. Score is the cosine similarity in [-1, 1].
type Hit struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Store is a namespaced vector index. Each repository owns exactly one
// namespace; operations never cross namespaces.
type Store interface {
	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Delete removes records by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Search returns up to k nearest records ordered by descending score,
	// ties broken by ascending ID.
	Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error)

	// Count returns the number of records in namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// IDs returns every record ID in namespace, sorted.
	IDs(ctx context.Context, namespace string) ([]string, error)
}

// CosineSimilarity computes the cosine similarity between two vectors. It
// returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortHits orders hits by descending score, then ascending ID
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
