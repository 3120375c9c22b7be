package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/repoask/internal/chunker"
	"github.com/dshills/repoask/internal/embedder"
	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/source"
	"github.com/dshills/repoask/internal/vectorstore"
	"github.com/dshills/repoask/pkg/types"
)

// DefaultRunAttempts is how many times the embedding stage runs before an
// index call fails. Attempts share one Stage, so finished batches are not
// re-sent.
const DefaultRunAttempts = 2

// Config contains configuration for the indexer
type Config struct {
	RunAttempts int    // embedding stage attempts per run (default 2)
	LockDir     string // directory for cross-process lock files; empty disables them
}

// Result summarizes one index run
type Result struct {
	Repo      types.RepoID
	Head      string
	Indexed   int // chunks embedded this run
	Updated   int // files whose content changed
	Added     int // files seen for the first time
	Unchanged int
	Deleted   int
	Files     int // files in the committed snapshot
	Chunks    int // chunks in the committed snapshot
	Duration  time.Duration
}

// Note is a short human-readable outcome of the run
func (r *Result) Note() string {
	if r.Updated == 0 && r.Added == 0 && r.Deleted == 0 {
		return "No changes"
	}
	return "Indexed"
}

// Indexer coordinates the indexing pipeline: list -> diff -> chunk -> embed -> apply
type Indexer struct {
	source       source.Source
	chunker      *chunker.Chunker
	orchestrator *embedder.Orchestrator
	fingerprints fingerprint.Store
	vectors      vectorstore.Store
	config       Config
	logger       *slog.Logger

	locks repoLocks
	now   func() time.Time
}

// New creates a new Indexer instance
func New(src source.Source, ch *chunker.Chunker, orch *embedder.Orchestrator,
	fingerprints fingerprint.Store, vectors vectorstore.Store, config Config, logger *slog.Logger) *Indexer {
	if config.RunAttempts <= 0 {
		config.RunAttempts = DefaultRunAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		source:       src,
		chunker:      ch,
		orchestrator: orch,
		fingerprints: fingerprints,
		vectors:      vectors,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// IndexRepository brings the index of repo up to date with its source.
// Concurrent calls for the same repository run one after another.
func (idx *Indexer) IndexRepository(ctx context.Context, repo types.RepoID) (*Result, error) {
	lock := idx.locks.get(repo)
	if err := lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer lock.Release()

	if idx.config.LockDir != "" {
		fl := NewFileLock(idx.config.LockDir, repo)
		if err := fl.Lock(ctx); err != nil {
			return nil, err
		}
		defer func() { _ = fl.Unlock() }()
	}

	return idx.run(ctx, repo)
}

// TryIndexRepository is IndexRepository without waiting: it returns
// types.ErrIndexInProgress when another run of repo holds the lock.
func (idx *Indexer) TryIndexRepository(ctx context.Context, repo types.RepoID) (*Result, error) {
	lock := idx.locks.get(repo)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", types.ErrIndexInProgress, repo)
	}
	defer lock.Release()

	if idx.config.LockDir != "" {
		fl := NewFileLock(idx.config.LockDir, repo)
		locked, err := fl.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", types.ErrIndexInProgress, repo)
		}
		defer func() { _ = fl.Unlock() }()
	}

	return idx.run(ctx, repo)
}

// run executes one index run; the caller holds the repository lock
func (idx *Indexer) run(ctx context.Context, repo types.RepoID) (*Result, error) {
	start := idx.now()
	ns := repo.Namespace()

	listing, err := idx.source.ListFiles(ctx, repo)
	if err != nil {
		return nil, err
	}

	current := make([]fingerprint.CurrentFile, 0, len(listing.Files))
	skipped := 0
	for _, f := range listing.Files {
		if chunker.IsBinary(f.Content) {
			skipped++
			continue
		}
		current = append(current, fingerprint.CurrentFile{
			Path:    f.Path,
			Content: f.Content,
			Hash:    chunker.HashContent(f.Content),
		})
	}

	prev, err := idx.fingerprints.Load(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	diff := fingerprint.Classify(prev, current)

	// Chunk every new or changed file
	toEmbed := diff.ToEmbed()
	fileChunks := make([][]types.Chunk, len(toEmbed))
	var all []types.Chunk
	for i, f := range toEmbed {
		fileChunks[i] = idx.chunker.Chunk(repo, f.Path, f.Content)
		all = append(all, fileChunks[i]...)
	}

	// Embed everything before touching the index
	vectors, err := idx.embed(ctx, repo, all)
	if err != nil {
		return nil, err
	}

	// Apply per file: upsert, drop leftovers, then record the fingerprint
	for i, f := range toEmbed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := idx.applyFile(ctx, repo, f, fileChunks[i], vectors, diff); err != nil {
			return nil, err
		}
	}

	for _, f := range diff.Deleted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := idx.vectors.Delete(ctx, ns, f.ChunkIDs); err != nil {
			return nil, fmt.Errorf("failed to delete chunks of %s: %w", f.Path, err)
		}
		if err := idx.fingerprints.RemoveFile(ctx, repo, f.Path); err != nil {
			return nil, fmt.Errorf("failed to remove fingerprint of %s: %w", f.Path, err)
		}
	}

	snap, err := idx.fingerprints.Load(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to reload fingerprints: %w", err)
	}
	if err := idx.sweepOrphans(ctx, ns, snap); err != nil {
		return nil, err
	}

	status := snap.Status(listing.Head, idx.now().UTC())
	if err := idx.fingerprints.Commit(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to commit index run: %w", err)
	}

	result := &Result{
		Repo:      repo,
		Head:      listing.Head,
		Indexed:   len(all),
		Updated:   len(diff.Changed),
		Added:     len(diff.New),
		Unchanged: len(diff.Unchanged),
		Deleted:   len(diff.Deleted),
		Files:     status.Files,
		Chunks:    status.Chunks,
		Duration:  idx.now().Sub(start),
	}

	idx.logger.Info("indexed repository",
		"repo", repo,
		"head", listing.Head,
		"indexed", result.Indexed,
		"added", result.Added,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted,
		"binary_skipped", skipped,
		"duration", result.Duration)

	return result, nil
}

// embed runs the embedding stage up to RunAttempts times. Attempts share a
// Stage so completed batches are reused.
func (idx *Indexer) embed(ctx context.Context, repo types.RepoID, chunks []types.Chunk) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(chunks))
	if len(chunks) == 0 {
		return vectors, nil
	}

	stage := embedder.NewStage()
	var lastErr error
	for attempt := 1; attempt <= idx.config.RunAttempts; attempt++ {
		embedded, err := idx.orchestrator.Embed(ctx, stage, chunks)
		if err == nil {
			for _, e := range embedded {
				vectors[e.Chunk.ID] = e.Vector
			}
			return vectors, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		idx.logger.Warn("embedding attempt failed",
			"repo", repo,
			"attempt", attempt,
			"staged_batches", stage.Len(),
			"error", err)
	}
	return nil, lastErr
}

// applyFile replaces one file's chunk set. New vectors are written before
// stale ones are removed, and the fingerprint last.
func (idx *Indexer) applyFile(ctx context.Context, repo types.RepoID, f fingerprint.CurrentFile,
	chunks []types.Chunk, vectors map[string][]float32, diff fingerprint.Diff) error {
	ns := repo.Namespace()

	records := make([]vectorstore.Record, len(chunks))
	ids := make([]string, len(chunks))
	keep := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:     c.ID,
			Vector: vectors[c.ID],
			Metadata: vectorstore.Metadata{
				Path:        c.Path,
				LineStart:   c.LineStart,
				LineEnd:     c.LineEnd,
				ContentHash: c.ContentHash,
				Content:     c.Content,
			},
		}
		ids[i] = c.ID
		keep[c.ID] = struct{}{}
	}

	if err := idx.vectors.Upsert(ctx, ns, records); err != nil {
		return fmt.Errorf("failed to upsert chunks of %s: %w", f.Path, err)
	}

	if prev, ok := diff.Previous(f.Path); ok {
		var stale []string
		for _, id := range prev.ChunkIDs {
			if _, reused := keep[id]; !reused {
				stale = append(stale, id)
			}
		}
		if err := idx.vectors.Delete(ctx, ns, stale); err != nil {
			return fmt.Errorf("failed to delete stale chunks of %s: %w", f.Path, err)
		}
	}

	err := idx.fingerprints.PutFile(ctx, repo, types.SourceFile{
		Path:        f.Path,
		ContentHash: f.Hash,
		ChunkIDs:    ids,
		LineCount:   chunker.LineCount(f.Content),
	})
	if err != nil {
		return fmt.Errorf("failed to record fingerprint of %s: %w", f.Path, err)
	}
	return nil
}

// sweepOrphans deletes vectors no fingerprint owns. They appear when a run
// is interrupted between an upsert and its fingerprint write and the file
// disappears before the next run.
func (idx *Indexer) sweepOrphans(ctx context.Context, ns string, snap *fingerprint.Snapshot) error {
	stored, err := idx.vectors.IDs(ctx, ns)
	if err != nil {
		return fmt.Errorf("failed to list stored chunks: %w", err)
	}

	owned := make(map[string]struct{}, len(stored))
	for _, id := range snap.ChunkIDs() {
		owned[id] = struct{}{}
	}

	var orphans []string
	for _, id := range stored {
		if _, ok := owned[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	idx.logger.Warn("removing orphaned chunks", "namespace", ns, "count", len(orphans))
	if err := idx.vectors.Delete(ctx, ns, orphans); err != nil {
		return fmt.Errorf("failed to delete orphaned chunks: %w", err)
	}
	return nil
}
