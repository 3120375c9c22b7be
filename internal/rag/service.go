// Package rag exposes the two client operations, index and ask, plus the
// repository listing, on top of the indexing and retrieval components.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/repoask/internal/answer"
	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/indexer"
	"github.com/dshills/repoask/internal/searcher"
	"github.com/dshills/repoask/pkg/types"
)

// AskRequest is one question about an indexed repository
type AskRequest struct {
	Repo     string
	Question string
	TopK     int // 0 = configured default
}

// AskResult is a grounded answer and the citations it was built from
type AskResult struct {
	Repo      types.RepoID
	Answer    string
	Citations []types.Citation
	Truncated bool
	Duration  time.Duration
}

// Service runs index and ask operations
type Service struct {
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	assembler *answer.Assembler
	statuses  fingerprint.Store
	logger    *slog.Logger
	closers   []func() error
}

// NewService creates a Service from its components
func NewService(idx *indexer.Indexer, srch *searcher.Searcher, asm *answer.Assembler, statuses fingerprint.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		indexer:   idx,
		searcher:  srch,
		assembler: asm,
		statuses:  statuses,
		logger:    logger,
	}
}

// Index brings the index of repo up to date, waiting for any run of the
// same repository already in progress.
func (s *Service) Index(ctx context.Context, repo string) (*indexer.Result, error) {
	id, err := types.ParseRepoID(repo)
	if err != nil {
		return nil, err
	}
	return s.indexer.IndexRepository(ctx, id)
}

// TryIndex is Index without waiting; it fails with types.ErrIndexInProgress
// when the repository is already being indexed.
func (s *Service) TryIndex(ctx context.Context, repo string) (*indexer.Result, error) {
	id, err := types.ParseRepoID(repo)
	if err != nil {
		return nil, err
	}
	return s.indexer.TryIndexRepository(ctx, id)
}

// Ask answers a question from the committed index of a repository
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	start := time.Now()

	id, err := types.ParseRepoID(req.Repo)
	if err != nil {
		return nil, err
	}

	found, err := s.searcher.Search(ctx, searcher.SearchRequest{Repo: id, Question: req.Question, TopK: req.TopK})
	if err != nil {
		return nil, err
	}

	ans, err := s.assembler.Answer(ctx, req.Question, found.Passages)
	if err != nil {
		return nil, err
	}

	s.logger.Info("question answered",
		"repo", id,
		"passages", len(found.Passages),
		"cited", len(ans.Citations),
		"duration", time.Since(start))

	return &AskResult{
		Repo:      id,
		Answer:    ans.Answer,
		Citations: ans.Citations,
		Truncated: ans.Truncated,
		Duration:  time.Since(start),
	}, nil
}

// Repositories lists every repository with a committed index
func (s *Service) Repositories(ctx context.Context) ([]types.RepoStatus, error) {
	repos, err := s.statuses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// Repository returns the committed status of one repository
func (s *Service) Repository(ctx context.Context, repo string) (*types.RepoStatus, error) {
	id, err := types.ParseRepoID(repo)
	if err != nil {
		return nil, err
	}
	status, err := s.statuses.Status(ctx, id)
	if errors.Is(err, fingerprint.ErrNotFound) {
		return nil, &types.IndexNotFoundError{Repo: id}
	}
	return status, err
}

// Close releases stores and provider clients
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
