package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoask/internal/chunker"
	"github.com/dshills/repoask/internal/embedder"
	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/internal/source"
	"github.com/dshills/repoask/internal/vectorstore"
	"github.com/dshills/repoask/pkg/types"
)

const testDim = 64

// mockEmbedder produces hash vectors and counts how often each text is sent
type mockEmbedder struct {
	mu        sync.Mutex
	callCount int
	texts     map[string]int
	failFn    func(call int, texts []string) error
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{texts: make(map[string]int)}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.callCount++
	call := m.callCount
	failFn := m.failFn
	m.mu.Unlock()

	if failFn != nil {
		if err := failFn(call, req.Texts); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	for _, t := range req.Texts {
		m.texts[t]++
	}
	m.mu.Unlock()

	embs := make([]*embedder.Embedding, len(req.Texts))
	for i, t := range req.Texts {
		embs[i] = &embedder.Embedding{Vector: embedder.HashVector(t, testDim), Dimension: testDim, Provider: "mock", Model: "test-v1"}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embs, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return testDim }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockEmbedder) embedded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.texts {
		n += c
	}
	return n
}

// mockSource serves in-memory repositories
type mockSource struct {
	mu    sync.Mutex
	repos map[types.RepoID]map[string]string
	head  string
	err   error

	// gate, when set, blocks ListFiles until closed; entered receives each call
	gate    chan struct{}
	entered chan types.RepoID
}

func newMockSource() *mockSource {
	return &mockSource{repos: make(map[types.RepoID]map[string]string), head: "abc123"}
}

func (s *mockSource) set(repo types.RepoID, path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repos[repo] == nil {
		s.repos[repo] = make(map[string]string)
	}
	s.repos[repo][path] = content
}

func (s *mockSource) remove(repo types.RepoID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repos[repo], path)
}

func (s *mockSource) ListFiles(ctx context.Context, repo types.RepoID) (*source.Listing, error) {
	if s.entered != nil {
		s.entered <- repo
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	listing := &source.Listing{Head: s.head}
	for path, content := range s.repos[repo] {
		listing.Files = append(listing.Files, source.File{Path: path, Content: []byte(content)})
	}
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Path < listing.Files[j].Path })
	return listing, nil
}

type testEnv struct {
	idx     *Indexer
	src     *mockSource
	emb     *mockEmbedder
	prints  *fingerprint.MemoryStore
	vectors *vectorstore.HNSWStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, cfg, nil)
}

func newTestEnvWithStore(t *testing.T, cfg Config, wrap func(vectorstore.Store) vectorstore.Store) *testEnv {
	t.Helper()

	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)

	env := &testEnv{
		src:     newMockSource(),
		emb:     newMockEmbedder(),
		prints:  fingerprint.NewMemoryStore(),
		vectors: vectorstore.NewHNSWStore(vectorstore.HNSWConfig{}),
	}
	orch := embedder.NewOrchestrator(env.emb, embedder.OrchestratorConfig{
		BatchSize:   8,
		Parallelism: 2,
		Retry:       retry.Policy{MaxAttempts: 1},
	}, nil)

	var vs vectorstore.Store = env.vectors
	if wrap != nil {
		vs = wrap(env.vectors)
	}
	env.idx = New(env.src, ch, orch, env.prints, vs, cfg, nil)
	return env
}

// assertNoOrphans checks the namespace holds exactly the fingerprinted chunks
func (e *testEnv) assertNoOrphans(t *testing.T, repo types.RepoID) {
	t.Helper()
	ctx := context.Background()

	snap, err := e.prints.Load(ctx, repo)
	require.NoError(t, err)
	ids, err := e.vectors.IDs(ctx, repo.Namespace())
	require.NoError(t, err)

	want := snap.ChunkIDs()
	if len(want) == 0 {
		assert.Empty(t, ids)
		return
	}
	assert.Equal(t, want, ids)
}

func numberedLines(n int, prefix string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%s line %d\n", prefix, i)
	}
	return b.String()
}

func TestIndexRepository_DemoScenario(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")

	original := numberedLines(50, "v1")
	env.src.set(repo, "main.py", original)

	// First index: 50 lines with W=40, O=10 gives [1-40] and [31-50]
	res, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, "abc123", res.Head)
	env.assertNoOrphans(t, repo)

	// Re-index without changes is a no-op
	calls := env.emb.calls()
	res, err = env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, calls, env.emb.calls())

	// Edit lines 45-50
	lines := strings.Split(strings.TrimSuffix(original, "\n"), "\n")
	for i := 44; i < 50; i++ {
		lines[i] = fmt.Sprintf("edited line %d", i+1)
	}
	env.src.set(repo, "main.py", strings.Join(lines, "\n")+"\n")

	res, err = env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Updated)
	env.assertNoOrphans(t, repo)

	hits, err := env.vectors.Search(ctx, repo.Namespace(), embedder.HashVector("edited line 45", testDim), 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "main.py", h.Metadata.Path)
	}
	assert.Contains(t, hits[0].Metadata.Content+hits[len(hits)-1].Metadata.Content, "edited line 45")

	// Delete the file
	env.src.remove(repo, "main.py")
	res, err = env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Deleted)

	hits, err = env.vectors.Search(ctx, repo.Namespace(), embedder.HashVector("line 45", testDim), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	env.assertNoOrphans(t, repo)

	st, err := env.prints.Status(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Files)
	assert.Equal(t, 0, st.Chunks)
}

func TestIndexRepository_ChunkLines(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "main.py", numberedLines(50, "x"))

	_, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)

	hits, err := env.vectors.Search(ctx, repo.Namespace(), embedder.HashVector("x line", testDim), 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	ranges := map[[2]int]bool{}
	for _, h := range hits {
		ranges[[2]int{h.Metadata.LineStart, h.Metadata.LineEnd}] = true
		assert.True(t, h.Metadata.HasLines())
		assert.LessOrEqual(t, h.Metadata.LineEnd, 50)
	}
	assert.True(t, ranges[[2]int{1, 40}])
	assert.True(t, ranges[[2]int{31, 50}])
}

func TestIndexRepository_MultipleFiles(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")

	env.src.set(repo, "a.go", numberedLines(10, "a"))
	env.src.set(repo, "b.go", numberedLines(100, "b"))
	env.src.set(repo, "c.md", numberedLines(5, "c"))
	env.src.set(repo, "logo.svg", "\x00\x01binary")
	env.src.set(repo, "blank.txt", "")

	res, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	// b.go: [1-40] [31-70] [61-100]
	assert.Equal(t, 1+3+1, res.Indexed)
	assert.Equal(t, 4, res.Added) // binary file is not tracked
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 5, res.Chunks)
	env.assertNoOrphans(t, repo)

	// Shrink b.go and drop c.md in one run
	env.src.set(repo, "b.go", numberedLines(20, "b2"))
	env.src.remove(repo, "c.md")

	res, err = env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, 2, res.Chunks)
	env.assertNoOrphans(t, repo)
}

func TestIndexRepository_SourceErrorLeavesIndexUntouched(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")

	env.src.err = &types.SourceAccessError{Repo: repo, Kind: types.SourceNotFound}
	_, err := env.idx.IndexRepository(ctx, repo)

	var sae *types.SourceAccessError
	require.True(t, errors.As(err, &sae))
	_, err = env.prints.Status(ctx, repo)
	assert.ErrorIs(t, err, fingerprint.ErrNotFound)
	assert.Zero(t, env.emb.calls())
}

func TestIndexRepository_EmbeddingFailureNoMutation(t *testing.T) {
	env := newTestEnv(t, Config{RunAttempts: 2})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")

	env.src.set(repo, "main.py", numberedLines(50, "v1"))
	_, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	before, err := env.vectors.IDs(ctx, repo.Namespace())
	require.NoError(t, err)

	env.src.set(repo, "main.py", numberedLines(50, "v2"))
	env.src.set(repo, "new.py", numberedLines(3, "n"))
	env.emb.failFn = func(int, []string) error { return errors.New("provider down") }

	_, err = env.idx.IndexRepository(ctx, repo)
	var ee *types.EmbeddingError
	require.True(t, errors.As(err, &ee), "got %v", err)

	after, err := env.vectors.IDs(ctx, repo.Namespace())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	snap, err := env.prints.Load(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, snap.Files, 1)
	assert.Equal(t, chunker.HashContent([]byte(numberedLines(50, "v1"))), snap.Files["main.py"].ContentHash)

	hits, err := env.vectors.Search(ctx, repo.Namespace(), embedder.HashVector("v1 line 3", testDim), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Metadata.Content, "v1 line 3")
}

func TestIndexRepository_RunAttemptsReuseStagedBatches(t *testing.T) {
	env := newTestEnv(t, Config{RunAttempts: 2})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")

	// 12 files of one chunk each: two batches of 8 and 4
	for i := 0; i < 12; i++ {
		env.src.set(repo, fmt.Sprintf("f%02d.go", i), numberedLines(3, fmt.Sprintf("file%02d", i)))
	}

	var failed sync.Once
	env.emb.failFn = func(call int, texts []string) error {
		var err error
		if len(texts) == 4 {
			failed.Do(func() { err = errors.New("transient") })
		}
		return err
	}

	res, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Indexed)

	// The successful batch was embedded once even though the run retried
	env.emb.mu.Lock()
	defer env.emb.mu.Unlock()
	for text, n := range env.emb.texts {
		assert.Equal(t, 1, n, "text embedded %d times: %q", n, text)
	}
	assert.Len(t, env.emb.texts, 12)
}

func TestIndexRepository_Idempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", numberedLines(90, "a"))
	env.src.set(repo, "b.py", numberedLines(7, "b"))

	first, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "Indexed", first.Note())
	idsBefore, err := env.vectors.IDs(ctx, repo.Namespace())
	require.NoError(t, err)
	embedded := env.emb.embedded()

	for i := 0; i < 3; i++ {
		res, err := env.idx.IndexRepository(ctx, repo)
		require.NoError(t, err)
		assert.Zero(t, res.Indexed)
		assert.Zero(t, res.Updated)
		assert.Equal(t, "No changes", res.Note())
		assert.Equal(t, first.Chunks, res.Chunks)
	}

	idsAfter, err := env.vectors.IDs(ctx, repo.Namespace())
	require.NoError(t, err)
	assert.Equal(t, idsBefore, idsAfter)
	assert.Equal(t, embedded, env.emb.embedded())
}

// cancelOnSecondUpsert cancels the run once the second file's vectors are
// written, before its fingerprint is recorded
type cancelOnSecondUpsert struct {
	vectorstore.Store
	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (c *cancelOnSecondUpsert) Upsert(ctx context.Context, ns string, records []vectorstore.Record) error {
	err := c.Store.Upsert(ctx, ns, records)
	c.mu.Lock()
	c.calls++
	if c.calls == 2 {
		c.cancel()
	}
	c.mu.Unlock()
	return err
}

func TestIndexRepository_CancelledRunResumes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wrapper := &cancelOnSecondUpsert{cancel: cancel}
	env := newTestEnvWithStore(t, Config{}, func(s vectorstore.Store) vectorstore.Store {
		wrapper.Store = s
		return wrapper
	})
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", numberedLines(5, "a"))
	env.src.set(repo, "b.py", numberedLines(5, "b"))

	_, err := env.idx.IndexRepository(ctx, repo)
	require.ErrorIs(t, err, context.Canceled)

	// Not committed, but the first file's work survives
	_, err = env.prints.Status(context.Background(), repo)
	assert.ErrorIs(t, err, fingerprint.ErrNotFound)
	snap, err := env.prints.Load(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, snap.Paths())

	res, err := env.idx.IndexRepository(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Indexed)
	env.assertNoOrphans(t, repo)
}

func TestIndexRepository_SweepsOrphans(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", numberedLines(5, "a"))

	require.NoError(t, env.vectors.Upsert(ctx, repo.Namespace(), []vectorstore.Record{{
		ID:       "leftover",
		Vector:   embedder.HashVector("gone", testDim),
		Metadata: vectorstore.Metadata{Path: "gone.py", LineStart: 1, LineEnd: 1},
	}}))

	_, err := env.idx.IndexRepository(ctx, repo)
	require.NoError(t, err)
	env.assertNoOrphans(t, repo)
}

func TestIndexRepository_SerializedPerRepo(t *testing.T) {
	env := newTestEnv(t, Config{})
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", numberedLines(5, "a"))
	env.src.gate = make(chan struct{})
	env.src.entered = make(chan types.RepoID, 4)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.idx.IndexRepository(context.Background(), repo)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	// Only one run reaches the source while the gate is closed
	<-env.src.entered
	select {
	case <-env.src.entered:
		t.Fatal("second run entered while first was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	// A non-blocking attempt reports the run in progress
	_, err := env.idx.TryIndexRepository(context.Background(), repo)
	assert.ErrorIs(t, err, types.ErrIndexInProgress)

	close(env.src.gate)
	wg.Wait()

	added := results[0].Added + results[1].Added
	unchanged := results[0].Unchanged + results[1].Unchanged
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, unchanged)
}

func TestIndexRepository_ParallelAcrossRepos(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.src.set("octo/one", "a.py", numberedLines(5, "a"))
	env.src.set("octo/two", "b.py", numberedLines(5, "b"))
	env.src.gate = make(chan struct{})
	env.src.entered = make(chan types.RepoID, 2)

	var wg sync.WaitGroup
	for _, repo := range []types.RepoID{"octo/one", "octo/two"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.idx.IndexRepository(context.Background(), repo)
			assert.NoError(t, err)
		}()
	}

	// Both runs are inside the source at once
	seen := map[types.RepoID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-env.src.entered:
			seen[r] = true
		case <-time.After(2 * time.Second):
			t.Fatal("runs of different repositories did not overlap")
		}
	}
	close(env.src.gate)
	wg.Wait()
	assert.Len(t, seen, 2)
}

func TestIndexRepository_WaitRespectsContext(t *testing.T) {
	env := newTestEnv(t, Config{})
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", "x\n")
	env.src.gate = make(chan struct{})
	env.src.entered = make(chan types.RepoID, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = env.idx.IndexRepository(context.Background(), repo)
	}()
	<-env.src.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.idx.IndexRepository(ctx, repo)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(env.src.gate)
	<-done
}

func TestTryIndexRepository_FileLockHeld(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, Config{LockDir: dir})
	repo := types.RepoID("octo/demo")
	env.src.set(repo, "a.py", "x\n")

	other := flock.New(filepath.Join(dir, repo.FileSafe()+".lock"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = env.idx.TryIndexRepository(context.Background(), repo)
	assert.ErrorIs(t, err, types.ErrIndexInProgress)

	require.NoError(t, other.Unlock())
	res, err := env.idx.TryIndexRepository(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
}

func TestIndexLock(t *testing.T) {
	lock := NewIndexLock()
	require.True(t, lock.TryAcquire())
	assert.False(t, lock.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lock.Acquire(ctx), context.DeadlineExceeded)

	lock.Release()
	require.NoError(t, lock.Acquire(context.Background()))
	lock.Release()
}

func BenchmarkIndexRepository(b *testing.B) {
	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(b, err)
	src := newMockSource()
	for i := 0; i < 50; i++ {
		src.set("octo/bench", fmt.Sprintf("f%02d.go", i), numberedLines(200, fmt.Sprintf("f%02d", i)))
	}
	emb := newMockEmbedder()
	orch := embedder.NewOrchestrator(emb, embedder.OrchestratorConfig{Retry: retry.Policy{MaxAttempts: 1}}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := New(src, ch, orch, fingerprint.NewMemoryStore(), vectorstore.NewHNSWStore(vectorstore.HNSWConfig{}), Config{}, nil)
		if _, err := idx.IndexRepository(context.Background(), "octo/bench"); err != nil {
			b.Fatal(err)
		}
	}
}
