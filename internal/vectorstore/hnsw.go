package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("vector store is closed")

// HNSWConfig tunes the in-memory graph
type HNSWConfig struct {
	M        int // max neighbors per node (default 16)
	EfSearch int // search candidate list size (default 20)

	// ExactBelow switches to an exhaustive scan for namespaces with fewer
	// live records. Zero means 256; negative always uses the graph.
	ExactBelow int
}

const (
	defaultM          = 16
	defaultEfSearch   = 20
	defaultExactBelow = 256

	// compactMinOrphans is the orphan count below which compaction is skipped
	compactMinOrphans = 64
)

// HNSWStore implements Store with one coder/hnsw graph per namespace.
// Deletes are lazy: the node stays in the graph but loses its ID mapping,
// and the graph is rebuilt once orphans outnumber live records.
type HNSWStore struct {
	mu     sync.RWMutex
	cfg    HNSWConfig
	spaces map[string]*space
	closed bool
}

var _ Store = (*HNSWStore)(nil)

type entry struct {
	key      uint64
	vector   []float32
	metadata Metadata
}

type space struct {
	graph   *hnsw.Graph[uint64]
	dim     int
	entries map[string]*entry // ID -> live entry
	keys    map[uint64]string // graph key -> ID, live keys only
	nextKey uint64
}

// NewHNSWStore creates an empty store
func NewHNSWStore(cfg HNSWConfig) *HNSWStore {
	if cfg.M <= 0 {
		cfg.M = defaultM
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = defaultEfSearch
	}
	if cfg.ExactBelow == 0 {
		cfg.ExactBelow = defaultExactBelow
	}
	return &HNSWStore{cfg: cfg, spaces: make(map[string]*space)}
}

func (s *HNSWStore) newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.cfg.M
	graph.EfSearch = s.cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Upsert inserts or replaces records. The batch is validated before any
// record is applied.
func (s *HNSWStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	sp := s.spaces[namespace]
	dim := 0
	if sp != nil {
		dim = sp.dim
	}
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for %s", ErrDimensionMismatch, r.ID)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: %s has %d, namespace has %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
	}

	if sp == nil {
		sp = &space{
			graph:   s.newGraph(),
			dim:     dim,
			entries: make(map[string]*entry),
			keys:    make(map[uint64]string),
		}
		s.spaces[namespace] = sp
	}

	for _, r := range records {
		if old, ok := sp.entries[r.ID]; ok {
			delete(sp.keys, old.key)
		}

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)

		e := &entry{key: sp.nextKey, vector: vec, metadata: r.Metadata}
		sp.nextKey++
		sp.entries[r.ID] = e
		sp.keys[e.key] = r.ID

		if normalized, ok := normalized(vec); ok {
			sp.graph.Add(hnsw.MakeNode(e.key, normalized))
		}
	}

	s.compact(sp)
	return nil
}

// Delete removes records by ID
func (s *HNSWStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	sp := s.spaces[namespace]
	if sp == nil {
		return nil
	}
	for _, id := range ids {
		if e, ok := sp.entries[id]; ok {
			delete(sp.keys, e.key)
			delete(sp.entries, id)
		}
	}

	if len(sp.entries) == 0 {
		delete(s.spaces, namespace)
		return nil
	}
	s.compact(sp)
	return nil
}

// compact rebuilds the graph from live entries once lazy deletes dominate
func (s *HNSWStore) compact(sp *space) {
	orphans := sp.graph.Len() - len(sp.keys)
	if orphans < compactMinOrphans || orphans <= len(sp.keys) {
		return
	}

	graph := s.newGraph()
	keys := make(map[uint64]string, len(sp.entries))
	var next uint64
	for _, id := range sortedIDs(sp.entries) {
		e := sp.entries[id]
		e.key = next
		next++
		keys[e.key] = id
		if v, ok := normalized(e.vector); ok {
			graph.Add(hnsw.MakeNode(e.key, v))
		}
	}
	sp.graph = graph
	sp.keys = keys
	sp.nextKey = next
}

// Search returns the k most similar records. Scores are exact cosine
// similarities recomputed from the stored vectors.
func (s *HNSWStore) Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return []Hit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	sp := s.spaces[namespace]
	if sp == nil || sp.dim != len(vector) {
		return []Hit{}, nil
	}

	query, ok := normalized(vector)
	if !ok || sp.graph.Len() == 0 || (s.cfg.ExactBelow > 0 && len(sp.entries) < s.cfg.ExactBelow) {
		return exactSearch(sp, vector, k), nil
	}

	// over-fetch to cover lazily deleted nodes
	n := k + sp.graph.Len() - len(sp.keys)
	if n > sp.graph.Len() {
		n = sp.graph.Len()
	}

	hits := make([]Hit, 0, k)
	for _, node := range sp.graph.Search(query, n) {
		id, ok := sp.keys[node.Key]
		if !ok {
			continue
		}
		e := sp.entries[id]
		hits = append(hits, Hit{ID: id, Score: CosineSimilarity(vector, e.vector), Metadata: e.metadata})
	}

	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func exactSearch(sp *space, vector []float32, k int) []Hit {
	hits := make([]Hit, 0, len(sp.entries))
	for id, e := range sp.entries {
		hits = append(hits, Hit{ID: id, Score: CosineSimilarity(vector, e.vector), Metadata: e.metadata})
	}
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Count returns the number of live records in namespace
func (s *HNSWStore) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	if sp := s.spaces[namespace]; sp != nil {
		return len(sp.entries), nil
	}
	return 0, nil
}

// IDs returns every live record ID in namespace, sorted
func (s *HNSWStore) IDs(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	sp := s.spaces[namespace]
	if sp == nil {
		return nil, nil
	}
	return sortedIDs(sp.entries), nil
}

// HNSWStats describes one namespace's graph
type HNSWStats struct {
	Live       int // records visible to Search
	GraphNodes int // nodes in the graph, orphans included
	Orphans    int
}

// Stats reports graph occupancy for namespace
func (s *HNSWStore) Stats(namespace string) HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sp := s.spaces[namespace]
	if sp == nil || s.closed {
		return HNSWStats{}
	}
	return HNSWStats{
		Live:       len(sp.entries),
		GraphNodes: sp.graph.Len(),
		Orphans:    sp.graph.Len() - len(sp.keys),
	}
}

// Close releases all graphs
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.spaces = nil
	return nil
}

func sortedIDs(entries map[string]*entry) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalized returns a unit-length copy of v; ok is false for zero vectors
func normalized(v []float32) ([]float32, bool) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return nil, false
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = val * inv
	}
	return out, true
}
