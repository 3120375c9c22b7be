package rag

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/repoask/internal/answer"
	"github.com/dshills/repoask/internal/chunker"
	"github.com/dshills/repoask/internal/config"
	"github.com/dshills/repoask/internal/embedder"
	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/generator"
	"github.com/dshills/repoask/internal/indexer"
	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/internal/searcher"
	"github.com/dshills/repoask/internal/source"
	"github.com/dshills/repoask/internal/storage"
	"github.com/dshills/repoask/internal/vectorstore"
)

// Build wires a Service from configuration. The caller must Close it.
func Build(cfg *config.Config, logger *slog.Logger) (svc *Service, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	policy := retryPolicy(cfg.Retry)

	fingerprints, vectors, closeStore, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	src, err := newSource(cfg, policy, logger)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(chunker.Config{Window: cfg.Chunker.Window, Overlap: cfg.Chunker.Overlap})
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey,
		Dimension: cfg.Embedder.Dimension,
		Timeout:   cfg.Embedder.Timeout,
		CacheSize: cfg.Embedder.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	closers = append(closers, emb.Close)

	gen, err := generator.New(generator.Config{
		Provider:    cfg.Generator.Provider,
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		APIKey:      cfg.Generator.APIKey,
		Temperature: cfg.Generator.Temperature,
		Timeout:     cfg.Generator.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	closers = append(closers, gen.Close)

	counter, err := answer.NewCounter(cfg.Answer.Counter)
	if err != nil {
		return nil, err
	}

	orch := embedder.NewOrchestrator(emb, embedder.OrchestratorConfig{
		BatchSize:         cfg.Embedder.BatchSize,
		Parallelism:       cfg.Embedder.Parallelism,
		RequestsPerMinute: cfg.Embedder.RequestsPerMinute,
		Retry:             policy,
	}, logger)

	if cfg.Index.LockDir != "" {
		if err := os.MkdirAll(cfg.Index.LockDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
	}
	idx := indexer.New(src, ch, orch, fingerprints, vectors, indexer.Config{
		RunAttempts: cfg.Index.RunAttempts,
		LockDir:     cfg.Index.LockDir,
	}, logger)

	srch := searcher.NewSearcher(fingerprints, vectors, orch, searcher.Config{
		DefaultTopK:    cfg.Search.TopK,
		MaxTopK:        cfg.Search.MaxTopK,
		ProximityLines: cfg.Search.ProximityLines,
		CacheSize:      cfg.Search.CacheSize,
	}, logger)

	asm := answer.New(gen, answer.Config{
		Budget:  cfg.Answer.Budget,
		Counter: counter,
		Retry:   policy,
	}, logger)

	logger.Info("service ready",
		"source", cfg.Source.Type,
		"store", cfg.Store.Type,
		"embedder", emb.Provider(),
		"embedding_model", emb.Model(),
		"generator", gen.Provider(),
		"budget_unit", counter.Unit())

	svc = NewService(idx, srch, asm, fingerprints, logger)
	svc.closers = closers
	return svc, nil
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = rc.MaxAttempts
	if rc.BaseDelay > 0 {
		p.BaseDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	p.AttemptTimeout = rc.AttemptTimeout
	return p
}

// openStores returns the fingerprint and vector stores. SQLite serves both;
// the memory store pairs the in-memory fingerprints with an HNSW graph.
func openStores(cfg *config.Config) (fingerprint.Store, vectorstore.Store, func() error, error) {
	switch cfg.Store.Type {
	case config.StoreMemory:
		vectors := vectorstore.NewHNSWStore(vectorstore.HNSWConfig{
			M:          cfg.Store.HNSW.M,
			EfSearch:   cfg.Store.HNSW.EfSearch,
			ExactBelow: cfg.Store.HNSW.ExactBelow,
		})
		return fingerprint.NewMemoryStore(), vectors, vectors.Close, nil
	default:
		if cfg.Store.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err := storage.NewSQLiteStorage(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db, db.Close, nil
	}
}

func newSource(cfg *config.Config, policy retry.Policy, logger *slog.Logger) (source.Source, error) {
	filter := source.DefaultFilter()
	if len(cfg.Source.Extensions) > 0 {
		filter.Extensions = cfg.Source.Extensions
	}
	if cfg.Source.MaxFileBytes > 0 {
		filter.MaxBytes = cfg.Source.MaxFileBytes
	}

	switch cfg.Source.Type {
	case config.SourceDir:
		return source.NewDir(cfg.Source.Root, filter), nil
	default:
		return source.NewGitHub(source.GitHubConfig{
			APIURL:      cfg.Source.APIURL,
			RawURL:      cfg.Source.RawURL,
			Token:       cfg.Source.Token,
			Filter:      filter,
			Concurrency: cfg.Source.Concurrency,
			CacheSize:   cfg.Source.CacheSize,
			Timeout:     cfg.Source.Timeout,
			Retry:       policy,
		}, logger)
	}
}
