package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/repoask/internal/embedder"
	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/vectorstore"
	"github.com/dshills/repoask/pkg/types"
)

const (
	DefaultTopK      = 5
	MaxTopK          = 50
	DefaultCacheSize = 1000
)

// Config tunes retrieval
type Config struct {
	DefaultTopK    int // used when a request leaves TopK unset (default 5)
	MaxTopK        int // upper bound on TopK (default 50)
	ProximityLines int // located passages of one file merge when the gap is at most this many lines
	CacheSize      int // query vectors kept in memory (default 1000)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Repo     types.RepoID
	Question string
	TopK     int
}

// SearchResponse contains ranked passages and metadata
type SearchResponse struct {
	Repo     types.RepoID
	Passages []Passage
	Duration time.Duration
	CacheHit bool // the query vector came from the cache
}

// Passage is a ranked piece of retrieved text and its citation
type Passage struct {
	Citation types.Citation
	Text     string
	ChunkIDs []string // chunks merged into this passage
}

// StatusReader reports whether a repository has a committed index
type StatusReader interface {
	Status(ctx context.Context, repo types.RepoID) (*types.RepoStatus, error)
}

// Searcher retrieves and ranks passages for a question
type Searcher struct {
	statuses     StatusReader
	vectors      vectorstore.Store
	orchestrator *embedder.Orchestrator
	cache        *lru.Cache[[32]byte, []float32]
	config       Config
	logger       *slog.Logger
}

// NewSearcher creates a new Searcher instance
func NewSearcher(statuses StatusReader, vectors vectorstore.Store, orch *embedder.Orchestrator, config Config, logger *slog.Logger) *Searcher {
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = DefaultTopK
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = MaxTopK
	}
	if config.ProximityLines < 0 {
		config.ProximityLines = 0
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, []float32](config.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		statuses:     statuses,
		vectors:      vectors,
		orchestrator: orch,
		cache:        cache,
		config:       config,
		logger:       logger,
	}
}

// Search returns at most TopK passages ordered by descending score with
// dense ranks starting at 1. It fails with *types.IndexNotFoundError when
// the repository has never been indexed.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	if _, err := s.statuses.Status(ctx, req.Repo); err != nil {
		if errors.Is(err, fingerprint.ErrNotFound) {
			return nil, &types.IndexNotFoundError{Repo: req.Repo}
		}
		return nil, fmt.Errorf("failed to read index status: %w", err)
	}

	vector, cacheHit, err := s.queryVector(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.Search(ctx, req.Repo.Namespace(), vector, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	passages := Rank(Merge(hits, s.config.ProximityLines))
	if len(passages) > req.TopK {
		passages = passages[:req.TopK]
	}

	s.logger.Debug("search completed",
		"repo", req.Repo,
		"hits", len(hits),
		"passages", len(passages),
		"cache_hit", cacheHit)

	return &SearchResponse{
		Repo:     req.Repo,
		Passages: passages,
		Duration: time.Since(startTime),
		CacheHit: cacheHit,
	}, nil
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return types.ErrEmptyQuestion
	}
	if req.Repo == "" {
		return types.ErrInvalidRepo
	}

	if req.TopK <= 0 {
		req.TopK = s.config.DefaultTopK
	}
	if req.TopK > s.config.MaxTopK {
		req.TopK = s.config.MaxTopK
	}
	return nil
}

// queryVector embeds the question, consulting the LRU cache first
func (s *Searcher) queryVector(ctx context.Context, question string) ([]float32, bool, error) {
	key := computeQueryHash(s.orchestrator.Embedder(), question)
	if v, ok := s.cache.Get(key); ok {
		return v, true, nil
	}

	v, err := s.orchestrator.EmbedQuery(ctx, question)
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(key, v)
	return v, false, nil
}

// computeQueryHash keys the cache by provider, model and question
func computeQueryHash(emb embedder.Embedder, question string) [32]byte {
	return sha256.Sum256([]byte(emb.Provider() + "\x00" + emb.Model() + "\x00" + question))
}
