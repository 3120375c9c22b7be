package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dshills/repoask/pkg/types"
)

// IndexLock serializes index runs of one repository. Acquire waits for the
// holder to finish; TryAcquire fails fast.
type IndexLock struct {
	ch chan struct{}
}

// NewIndexLock creates an unlocked lock
func NewIndexLock() *IndexLock {
	return &IndexLock{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done
func (l *IndexLock) Acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	<-l.ch
}

// repoLocks hands out one IndexLock per repository
type repoLocks struct {
	mu    sync.Mutex
	locks map[types.RepoID]*IndexLock
}

func (r *repoLocks) get(repo types.RepoID) *IndexLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locks == nil {
		r.locks = make(map[types.RepoID]*IndexLock)
	}
	l, ok := r.locks[repo]
	if !ok {
		l = NewIndexLock()
		r.locks[repo] = l
	}
	return l
}

// fileLockRetry is the polling interval while waiting for another process
const fileLockRetry = 100 * time.Millisecond

// FileLock serializes index runs of one repository across processes sharing
// a data directory. The lock file is <dir>/<owner>__<name>.lock.
type FileLock struct {
	path  string
	flock *flock.Flock
}

// NewFileLock creates a file lock for repo under dir
func NewFileLock(dir string, repo types.RepoID) *FileLock {
	path := filepath.Join(dir, repo.FileSafe()+".lock")
	return &FileLock{path: path, flock: flock.New(path)}
}

// Lock waits until the lock is held or ctx is done
func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	locked, err := l.flock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock %s", l.path)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	locked, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return locked, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}
