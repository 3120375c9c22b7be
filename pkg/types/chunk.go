package types

import (
	"errors"
	"time"
)

// Chunk is a contiguous, line-bounded window of one file's text.
// It is the unit of embedding and citation.
type Chunk struct {
	// Identification
	ID    string // stable: derived from repository, path and window index
	Repo  RepoID
	Path  string
	Index int // 0-based window index within the file

	// Location (1-based, inclusive)
	LineStart int
	LineEnd   int

	// Content
	Content     string
	ContentHash string // hex SHA-256 of Content
}

// ValidateContent checks if the chunk content and location are valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.LineStart <= 0 || c.LineEnd <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.LineStart > c.LineEnd {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk ID is required")
	}
	if c.Path == "" {
		return errors.New("chunk path is required")
	}
	if c.ContentHash == "" {
		return errors.New("content hash must be computed")
	}
	return c.ValidateContent()
}

// SourceFile is the fingerprint of one file in a committed snapshot.
type SourceFile struct {
	Path        string
	ContentHash string
	ChunkIDs    []string // ordered by window index
	LineCount   int
}

// RepoStatus summarizes the last committed index run of a repository.
type RepoStatus struct {
	Repo          RepoID
	Head          string // commit SHA reported by the source, may be empty
	LastIndexedAt time.Time
	Files         int
	Chunks        int
}
