package fingerprint

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dshills/repoask/pkg/types"
)

// ErrNotFound is returned by Store.Status for repositories that have never
// completed an index run.
var ErrNotFound = errors.New("repository not indexed")

// Store persists per-repository fingerprints.
type Store interface {
	// Load returns the recorded files of repo. An unknown repository yields
	// an empty snapshot.
	Load(ctx context.Context, repo types.RepoID) (*Snapshot, error)

	// PutFile records (or replaces) one file's fingerprint.
	PutFile(ctx context.Context, repo types.RepoID, file types.SourceFile) error

	// RemoveFile forgets a file. Removing an unknown path is not an error.
	RemoveFile(ctx context.Context, repo types.RepoID, path string) error

	// Commit records the outcome of a completed index run.
	Commit(ctx context.Context, status types.RepoStatus) error

	// Status returns the last committed run, or ErrNotFound.
	Status(ctx context.Context, repo types.RepoID) (*types.RepoStatus, error)

	// List returns the status of every committed repository ordered by ID.
	List(ctx context.Context) ([]types.RepoStatus, error)
}

// Snapshot is the fingerprint record of one repository.
type Snapshot struct {
	Repo  types.RepoID
	Files map[string]types.SourceFile
}

// NewSnapshot creates an empty snapshot for repo
func NewSnapshot(repo types.RepoID) *Snapshot {
	return &Snapshot{Repo: repo, Files: make(map[string]types.SourceFile)}
}

// Paths returns the recorded paths in ascending order
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ChunkIDs returns every chunk ID owned by a recorded file, sorted
func (s *Snapshot) ChunkIDs() []string {
	if s == nil {
		return nil
	}
	var ids []string
	for _, f := range s.Files {
		ids = append(ids, f.ChunkIDs...)
	}
	sort.Strings(ids)
	return ids
}

// ChunkCount returns the number of chunk IDs across all files
func (s *Snapshot) ChunkCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, f := range s.Files {
		n += len(f.ChunkIDs)
	}
	return n
}

// Status summarizes the snapshot as a committed run status
func (s *Snapshot) Status(head string, at time.Time) types.RepoStatus {
	return types.RepoStatus{
		Repo:          s.Repo,
		Head:          head,
		LastIndexedAt: at,
		Files:         len(s.Files),
		Chunks:        s.ChunkCount(),
	}
}

func cloneFile(f types.SourceFile) types.SourceFile {
	f.ChunkIDs = append([]string(nil), f.ChunkIDs...)
	return f
}
