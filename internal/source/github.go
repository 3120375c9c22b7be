package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/pkg/types"
)

const (
	DefaultAPIURL      = "https://api.github.com"
	DefaultRawURL      = "https://raw.githubusercontent.com"
	DefaultConcurrency = 8
	DefaultCacheSize   = 4096
	DefaultTimeout     = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept
	maxErrorBody = 512
)

// GitHubConfig configures the GitHub source
type GitHubConfig struct {
	APIURL      string
	RawURL      string
	Token       string // optional bearer token
	Filter      Filter
	Concurrency int // parallel blob downloads
	CacheSize   int // blob contents kept in memory, by blob SHA
	Timeout     time.Duration
	Retry       retry.Policy
}

// GitHub lists files through the GitHub REST API
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
	blobs  *lru.Cache[string, []byte]
	logger *slog.Logger
}

var _ Source = (*GitHub)(nil)

// NewGitHub creates a GitHub source. A zero Filter selects DefaultFilter.
func NewGitHub(cfg GitHubConfig, logger *slog.Logger) (*GitHub, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.RawURL == "" {
		cfg.RawURL = DefaultRawURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.RawURL = strings.TrimRight(cfg.RawURL, "/")
	if len(cfg.Filter.Extensions) == 0 && cfg.Filter.MaxBytes == 0 {
		cfg.Filter = DefaultFilter()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
		cfg.Retry.AttemptTimeout = cfg.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	blobs, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob cache: %w", err)
	}

	return &GitHub{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		blobs:  blobs,
		logger: logger,
	}, nil
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type commitInfo struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// errEmptyRepository is returned for repositories with no commits
var errEmptyRepository = errors.New("repository has no commits")

// ListFiles returns every allowed file at the head of the default branch
func (g *GitHub) ListFiles(ctx context.Context, repo types.RepoID) (*Listing, error) {
	var info repoInfo
	if err := g.getJSON(ctx, repo, g.cfg.APIURL+"/repos/"+string(repo), &info); err != nil {
		return nil, err
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	var commit commitInfo
	err := g.getJSON(ctx, repo, g.cfg.APIURL+"/repos/"+string(repo)+"/commits/"+url.PathEscape(branch), &commit)
	if errors.Is(err, errEmptyRepository) {
		g.logger.Info("repository has no commits", "repo", repo, "branch", branch)
		return &Listing{}, nil
	}
	if err != nil {
		return nil, err
	}

	var tree treeResponse
	if err := g.getJSON(ctx, repo, g.cfg.APIURL+"/repos/"+string(repo)+"/git/trees/"+commit.SHA+"?recursive=1", &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		// a partial listing would read as mass deletion
		g.logger.Warn("repository tree truncated by provider", "repo", repo, "entries", len(tree.Tree))
		return nil, &types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Detail: "tree truncated"}
	}

	entries := make([]treeEntry, 0, len(tree.Tree))
	for _, e := range tree.Tree {
		if e.Type != "blob" || !g.cfg.Filter.AllowPath(e.Path) {
			continue
		}
		if !g.cfg.Filter.AllowSize(e.Size) {
			g.logger.Debug("skipping oversized file", "repo", repo, "path", e.Path, "size", e.Size)
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	files := make([]File, len(entries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, e := range entries {
		eg.Go(func() error {
			content, err := g.fetchBlob(egCtx, repo, commit.SHA, e)
			if err != nil {
				return err
			}
			files[i] = File{Path: e.Path, Content: content}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// raw content may exceed the cap when the tree omitted sizes
	kept := files[:0]
	for _, f := range files {
		if g.cfg.Filter.AllowSize(int64(len(f.Content))) {
			kept = append(kept, f)
		}
	}

	g.logger.Debug("listed repository", "repo", repo, "head", commit.SHA, "files", len(kept))
	return &Listing{Head: commit.SHA, Files: kept}, nil
}

// fetchBlob downloads one file, served from the blob cache when possible
func (g *GitHub) fetchBlob(ctx context.Context, repo types.RepoID, ref string, e treeEntry) ([]byte, error) {
	if e.SHA != "" {
		if content, ok := g.blobs.Get(e.SHA); ok {
			return content, nil
		}
	}

	u := g.cfg.RawURL + "/" + string(repo) + "/" + ref + "/" + escapePath(e.Path)
	content, err := g.get(ctx, repo, u)
	if err != nil {
		return nil, err
	}
	if e.SHA != "" {
		g.blobs.Add(e.SHA, content)
	}
	return content, nil
}

func (g *GitHub) getJSON(ctx context.Context, repo types.RepoID, u string, out interface{}) error {
	body, err := g.get(ctx, repo, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Detail: "malformed provider response", Err: err}
	}
	return nil
}

// get performs a GET with retries on transient failures
func (g *GitHub) get(ctx context.Context, repo types.RepoID, u string) ([]byte, error) {
	body, _, err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return g.do(ctx, repo, u)
	})
	if err == nil {
		return body, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var sae *types.SourceAccessError
	if errors.As(err, &sae) || errors.Is(err, errEmptyRepository) {
		return nil, err
	}
	return nil, &types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Err: err}
}

func (g *GitHub) do(ctx context.Context, repo types.RepoID, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, retry.Permanent(errEmptyRepository)
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(&types.SourceAccessError{Repo: repo, Kind: types.SourceNotFound, Detail: "repository not found or private"})
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, retry.Permanent(&types.SourceAccessError{Repo: repo, Kind: types.SourceRateLimited, Detail: "rate limit exceeded"})
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, retry.Permanent(&types.SourceAccessError{Repo: repo, Kind: types.SourceForbidden, Detail: detail})
	case resp.StatusCode >= 500:
		return nil, &types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	default:
		return nil, retry.Permanent(&types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, detail)})
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
