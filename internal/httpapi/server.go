package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dshills/repoask/internal/indexer"
	"github.com/dshills/repoask/internal/rag"
	"github.com/dshills/repoask/pkg/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Backend is the operation surface the server exposes
type Backend interface {
	Index(ctx context.Context, repo string) (*indexer.Result, error)
	Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResult, error)
	Repositories(ctx context.Context) ([]types.RepoStatus, error)
}

// Options configures the HTTP server
type Options struct {
	CORSOrigin        string        // Access-Control-Allow-Origin, empty disables CORS headers
	ReadHeaderTimeout time.Duration // default 10s
	ShutdownTimeout   time.Duration // default 15s
}

// Server is the HTTP interface
type Server struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	handler http.Handler
}

// New creates a Server
func New(backend Backend, opts Options, logger *slog.Logger) *Server {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{backend: backend, opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /repos", s.handleRepos)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = s.withRequestID(s.withLogging(s.withRecover(s.withCORS(mux))))
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type indexRequest struct {
	Repo string `json:"repo"`
}

type indexResponse struct {
	Repo       string `json:"repo"`
	Indexed    int    `json:"indexed"`
	Updated    int    `json:"updated"`
	Added      int    `json:"added"`
	Unchanged  int    `json:"unchanged"`
	Deleted    int    `json:"deleted"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	Head       string `json:"head,omitempty"`
	Note       string `json:"note"`
	DurationMS int64  `json:"duration_ms"`
}

type askRequest struct {
	Repo     string `json:"repo"`
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type askResponse struct {
	Repo       string           `json:"repo"`
	Answer     string           `json:"answer"`
	Citations  []types.Citation `json:"citations"`
	DurationMS int64            `json:"duration_ms"`
}

type repoEntry struct {
	Repo        string    `json:"repo"`
	Head        string    `json:"head,omitempty"`
	LastIndexed time.Time `json:"last_indexed"`
	Files       int       `json:"files"`
	Chunks      int       `json:"chunks"`
}

type reposResponse struct {
	Repos []repoEntry `json:"repos"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.backend.Index(r.Context(), req.Repo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, indexResponse{
		Repo:       string(res.Repo),
		Indexed:    res.Indexed,
		Updated:    res.Updated,
		Added:      res.Added,
		Unchanged:  res.Unchanged,
		Deleted:    res.Deleted,
		Files:      res.Files,
		Chunks:     res.Chunks,
		Head:       res.Head,
		Note:       res.Note(),
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TopK < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "top_k must not be negative", Code: "invalid_request"})
		return
	}

	res, err := s.backend.Ask(r.Context(), rag.AskRequest{Repo: req.Repo, Question: req.Question, TopK: req.TopK})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	citations := res.Citations
	if citations == nil {
		citations = []types.Citation{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Repo:       string(res.Repo),
		Answer:     res.Answer,
		Citations:  citations,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.backend.Repositories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := reposResponse{Repos: make([]repoEntry, 0, len(repos))}
	for _, st := range repos {
		out.Repos = append(out.Repos, repoEntry{
			Repo:        string(st.Repo),
			Head:        st.Head,
			LastIndexed: st.LastIndexedAt,
			Files:       st.Files,
			Chunks:      st.Chunks,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid JSON body: " + err.Error(), Code: "invalid_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
