package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/pkg/types"
)

// DefaultParallelism is the default number of batches in flight
const DefaultParallelism = 4

// OrchestratorConfig bounds how chunks are sent to the embedding provider
type OrchestratorConfig struct {
	BatchSize         int // chunks per provider call (default 32, max 100)
	Parallelism       int // concurrent provider calls (default 4)
	RequestsPerMinute int // 0 = unlimited
	Retry             retry.Policy
}

// Embedded pairs a chunk with its vector
type Embedded struct {
	Chunk  types.Chunk
	Vector []float32
}

// Orchestrator batches chunks, fans batches out to the provider with bounded
// concurrency, and retries transient failures per batch.
type Orchestrator struct {
	embedder    Embedder
	batchSize   int
	parallelism int
	limiter     *rate.Limiter
	policy      retry.Policy
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator around emb
func NewOrchestrator(emb Embedder, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), parallelism)
	}

	return &Orchestrator{
		embedder:    emb,
		batchSize:   batchSize,
		parallelism: parallelism,
		limiter:     limiter,
		policy:      cfg.Retry,
		logger:      logger,
	}
}

// Embedder returns the wrapped provider
func (o *Orchestrator) Embedder() Embedder {
	return o.embedder
}

// BatchSize returns the effective batch size
func (o *Orchestrator) BatchSize() int {
	return o.batchSize
}

// Embed returns one vector per chunk, in input order. Batches already staged
// in stage are reused; newly embedded batches are added to it. If any batch
// exhausts its retries the call fails with a *types.EmbeddingError and
// returns no vectors.
func (o *Orchestrator) Embed(ctx context.Context, stage *Stage, chunks []types.Chunk) ([]Embedded, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if stage == nil {
		stage = NewStage()
	}

	var batches [][]types.Chunk
	for i := 0; i < len(chunks); i += o.batchSize {
		end := i + o.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}

	results := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)

	for i, batch := range batches {
		key := o.batchKey(batch)
		if vectors, ok := stage.get(key); ok {
			results[i] = vectors
			continue
		}

		g.Go(func() error {
			vectors, attempts, err := retry.Do(gctx, o.policy, func(ctx context.Context) ([][]float32, error) {
				return o.embedBatch(ctx, batch)
			})
			if err != nil {
				o.logger.Warn("embedding batch failed",
					slog.Int("batch", i),
					slog.Int("size", len(batch)),
					slog.Int("attempts", attempts),
					slog.String("error", err.Error()))
				return &types.EmbeddingError{Batch: i, Attempts: attempts, Err: err}
			}
			stage.put(key, vectors)
			results[i] = vectors
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Embedded, 0, len(chunks))
	for i, batch := range batches {
		for j, chunk := range batch {
			out = append(out, Embedded{Chunk: chunk, Vector: results[i][j]})
		}
	}
	return out, nil
}

// EmbedQuery embeds a single question under the retry policy
func (o *Orchestrator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, attempts, err := retry.Do(ctx, o.policy, func(ctx context.Context) ([][]float32, error) {
		if err := o.wait(ctx); err != nil {
			return nil, err
		}
		emb, err := o.embedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		if err := o.checkDimension(emb.Vector); err != nil {
			return nil, retry.Permanent(err)
		}
		return [][]float32{emb.Vector}, nil
	})
	if err != nil {
		return nil, &types.EmbeddingError{Batch: -1, Attempts: attempts, Err: err}
	}
	return vectors[0], nil
}

func (o *Orchestrator) embedBatch(ctx context.Context, batch []types.Chunk) ([][]float32, error) {
	if err := o.wait(ctx); err != nil {
		return nil, err
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	resp, err := o.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(batch) {
		return nil, retry.Permanent(fmt.Errorf("%w: sent %d texts, got %d vectors", ErrCountMismatch, len(batch), len(resp.Embeddings)))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, retry.Permanent(fmt.Errorf("%w: missing vector %d", ErrCountMismatch, i))
		}
		if err := o.checkDimension(emb.Vector); err != nil {
			return nil, retry.Permanent(err)
		}
		vectors[i] = emb.Vector
	}
	return vectors, nil
}

func (o *Orchestrator) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if want := o.embedder.Dimension(); want > 0 && len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

// batchKey identifies a batch by provider, model and member chunks
func (o *Orchestrator) batchKey(batch []types.Chunk) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", o.embedder.Provider(), o.embedder.Model())
	for _, c := range batch {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
		h.Write([]byte(c.ContentHash))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stage holds vectors embedded during one index call so that a retried
// attempt of the same call does not embed successful batches again.
// It is not shared across index calls.
type Stage struct {
	mu      sync.Mutex
	batches map[string][][]float32
	hits    int
}

// NewStage creates an empty Stage
func NewStage() *Stage {
	return &Stage{batches: make(map[string][][]float32)}
}

func (s *Stage) get(key string) ([][]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.batches[key]
	if ok {
		s.hits++
	}
	return v, ok
}

func (s *Stage) put(key string, vectors [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[key] = vectors
}

// Len returns the number of staged batches
func (s *Stage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Hits returns how many batches were served from the stage
func (s *Stage) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}
