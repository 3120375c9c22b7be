package types

import (
	"errors"
	"fmt"
)

// Domain errors for validation
var (
	ErrInvalidRepo     = errors.New("invalid repository identifier")
	ErrEmptyQuestion   = errors.New("question cannot be empty")
	ErrIndexInProgress = errors.New("indexing already in progress")
	ErrInvalidRank     = errors.New("rank must be dense and start at 1")
	ErrMissingFileInfo = errors.New("file path is required")
)

// SourceAccessKind classifies why a repository could not be read.
type SourceAccessKind string

const (
	SourceNotFound    SourceAccessKind = "not_found"    // missing or private
	SourceForbidden   SourceAccessKind = "forbidden"    // credentials rejected
	SourceRateLimited SourceAccessKind = "rate_limited" // hosting provider throttled us
	SourceUnavailable SourceAccessKind = "unavailable"  // network or provider failure
)

// SourceAccessError reports that the hosting provider could not serve the
// repository. No index mutation happens when it is returned.
type SourceAccessError struct {
	Repo   RepoID
	Kind   SourceAccessKind
	Detail string
	Err    error
}

func (e *SourceAccessError) Error() string {
	msg := fmt.Sprintf("repository %s: %s", e.Repo, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceAccessError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding batch that failed after its retry
// budget was exhausted, or a malformed provider response.
type EmbeddingError struct {
	Batch    int // index of the failed batch, -1 for query embeddings
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Batch < 0 {
		return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("embedding batch %d failed after %d attempt(s): %v", e.Batch, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexNotFoundError is returned by ask when the repository was never
// successfully indexed.
type IndexNotFoundError struct {
	Repo RepoID
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("repository %s is not indexed; index it first", e.Repo)
}

// GenerationError reports a failed answer-generation call.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
