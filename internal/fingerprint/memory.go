package fingerprint

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/repoask/pkg/types"
)

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	repos map[types.RepoID]*memoryRepo
}

type memoryRepo struct {
	files  map[string]types.SourceFile
	status *types.RepoStatus
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{repos: make(map[types.RepoID]*memoryRepo)}
}

func (m *MemoryStore) repo(id types.RepoID) *memoryRepo {
	r, ok := m.repos[id]
	if !ok {
		r = &memoryRepo{files: make(map[string]types.SourceFile)}
		m.repos[id] = r
	}
	return r
}

// Load returns a copy of the recorded files of repo
func (m *MemoryStore) Load(ctx context.Context, repo types.RepoID) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := NewSnapshot(repo)
	if r, ok := m.repos[repo]; ok {
		for p, f := range r.files {
			snap.Files[p] = cloneFile(f)
		}
	}
	return snap, nil
}

// PutFile records one file's fingerprint
func (m *MemoryStore) PutFile(ctx context.Context, repo types.RepoID, file types.SourceFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo(repo).files[file.Path] = cloneFile(file)
	return nil
}

// RemoveFile forgets a file
func (m *MemoryStore) RemoveFile(ctx context.Context, repo types.RepoID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[repo]; ok {
		delete(r.files, path)
	}
	return nil
}

// Commit records a completed run
func (m *MemoryStore) Commit(ctx context.Context, status types.RepoStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := status
	m.repo(status.Repo).status = &s
	return nil
}

// Status returns the last committed run of repo
func (m *MemoryStore) Status(ctx context.Context, repo types.RepoID) (*types.RepoStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[repo]
	if !ok || r.status == nil {
		return nil, ErrNotFound
	}
	s := *r.status
	return &s, nil
}

// List returns every committed repository
func (m *MemoryStore) List(ctx context.Context) ([]types.RepoStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RepoStatus, 0, len(m.repos))
	for _, r := range m.repos {
		if r.status != nil {
			out = append(out, *r.status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out, nil
}
