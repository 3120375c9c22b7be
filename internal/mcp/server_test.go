package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoask/internal/indexer"
	"github.com/dshills/repoask/internal/rag"
	"github.com/dshills/repoask/pkg/types"
)

// mockBackend records calls and returns canned results
type mockBackend struct {
	mu        sync.Mutex
	callCount int
	lastAsk   rag.AskRequest
	indexErr  error
	askErr    error
	repos     []types.RepoStatus
}

func (m *mockBackend) TryIndex(ctx context.Context, repo string) (*indexer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.indexErr != nil {
		return nil, m.indexErr
	}
	return &indexer.Result{Repo: types.RepoID(repo), Head: "abc123", Indexed: 2, Updated: 1, Files: 1, Chunks: 2}, nil
}

func (m *mockBackend) Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastAsk = req
	if m.askErr != nil {
		return nil, m.askErr
	}
	return &rag.AskResult{
		Repo:   types.RepoID(req.Repo),
		Answer: "See main.py.",
		Citations: []types.Citation{
			types.LocatedCitation{CitationBase: types.CitationBase{Path: "main.py", Rank: 1, Score: 0.8}, LineStart: 1, LineEnd: 40},
		},
	}, nil
}

func (m *mockBackend) Repositories(ctx context.Context) ([]types.RepoStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	return m.repos, nil
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServer(t *testing.T) {
	s := NewServer(&mockBackend{}, "", nil)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.backend)
}

func TestIndexRepository(t *testing.T) {
	backend := &mockBackend{}
	s := NewServer(backend, "test", nil)

	res, err := s.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{"repo": "octo/demo"}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "octo/demo", out["repo"])
	assert.EqualValues(t, 2, out["indexed"])
	assert.EqualValues(t, 1, out["updated"])
	assert.Equal(t, "abc123", out["head"])
	assert.Equal(t, "Indexed", out["note"])
}

func TestIndexRepository_Errors(t *testing.T) {
	tests := []struct {
		name string
		args interface{}
		err  error
		code int
	}{
		{"arguments not an object", "octo/demo", nil, ErrorCodeInvalidParams},
		{"missing repo", map[string]interface{}{}, nil, ErrorCodeInvalidParams},
		{"malformed repo", map[string]interface{}{"repo": "nope"}, fmt.Errorf("%w: nope", types.ErrInvalidRepo), ErrorCodeInvalidParams},
		{"in progress", map[string]interface{}{"repo": "octo/demo"}, fmt.Errorf("%w: octo/demo", types.ErrIndexInProgress), ErrorCodeIndexingInProgress},
		{"source", map[string]interface{}{"repo": "octo/demo"}, &types.SourceAccessError{Repo: "octo/demo", Kind: types.SourceRateLimited}, ErrorCodeSourceAccess},
		{"embedding", map[string]interface{}{"repo": "octo/demo"}, &types.EmbeddingError{Attempts: 3, Err: errors.New("503")}, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&mockBackend{indexErr: tt.err}, "test", nil)

			var req mcp.CallToolRequest
			req.Params.Name = "index_repository"
			req.Params.Arguments = tt.args

			res, err := s.handleIndexRepository(context.Background(), req)
			assert.Nil(t, res)
			requireCode(t, err, tt.code)
		})
	}
}

func TestAskRepository(t *testing.T) {
	backend := &mockBackend{}
	s := NewServer(backend, "test", nil)

	res, err := s.handleAskRepository(context.Background(), callRequest("ask_repository", map[string]interface{}{
		"repo":     "octo/demo",
		"question": "where is main?",
		"top_k":    float64(3),
	}))
	require.NoError(t, err)
	assert.Equal(t, rag.AskRequest{Repo: "octo/demo", Question: "where is main?", TopK: 3}, backend.lastAsk)

	out := resultJSON(t, res)
	assert.Equal(t, "See main.py.", out["answer"])
	citations, ok := out["citations"].([]interface{})
	require.True(t, ok)
	require.Len(t, citations, 1)
	first := citations[0].(map[string]interface{})
	assert.Equal(t, "main.py", first["path"])
	assert.EqualValues(t, 40, first["line_end"])
}

func TestAskRepository_Errors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		err  error
		code int
	}{
		{"missing repo", map[string]interface{}{"question": "q"}, nil, ErrorCodeInvalidParams},
		{"empty question", map[string]interface{}{"repo": "octo/demo", "question": "  "}, nil, ErrorCodeEmptyQuery},
		{"missing question", map[string]interface{}{"repo": "octo/demo"}, nil, ErrorCodeEmptyQuery},
		{"top_k too large", map[string]interface{}{"repo": "octo/demo", "question": "q", "top_k": float64(51)}, nil, ErrorCodeInvalidParams},
		{"not indexed", map[string]interface{}{"repo": "octo/demo", "question": "q"}, &types.IndexNotFoundError{Repo: "octo/demo"}, ErrorCodeNotIndexed},
		{"generation", map[string]interface{}{"repo": "octo/demo", "question": "q"}, &types.GenerationError{Attempts: 3, Err: errors.New("503")}, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{askErr: tt.err}
			s := NewServer(backend, "test", nil)

			res, err := s.handleAskRepository(context.Background(), callRequest("ask_repository", tt.args))
			assert.Nil(t, res)
			requireCode(t, err, tt.code)
		})
	}
}

func TestListRepositories(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := &mockBackend{repos: []types.RepoStatus{
		{Repo: "octo/a", Head: "h1", LastIndexedAt: at, Files: 2, Chunks: 5},
		{Repo: "octo/b", Head: "h2", LastIndexedAt: at, Files: 1, Chunks: 1},
	}}
	s := NewServer(backend, "test", nil)

	res, err := s.handleListRepositories(context.Background(), callRequest("list_repositories", map[string]interface{}{}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	repos, ok := out["repos"].([]interface{})
	require.True(t, ok)
	require.Len(t, repos, 2)
	first := repos[0].(map[string]interface{})
	assert.Equal(t, "octo/a", first["repo"])
	assert.Equal(t, "2026-03-01T12:00:00Z", first["last_indexed"])
	assert.EqualValues(t, 5, first["chunks"])
}

func TestListRepositories_Empty(t *testing.T) {
	s := NewServer(&mockBackend{}, "test", nil)

	res, err := s.handleListRepositories(context.Background(), callRequest("list_repositories", nil))
	require.NoError(t, err)
	repos, ok := resultJSON(t, res)["repos"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, repos)
}
