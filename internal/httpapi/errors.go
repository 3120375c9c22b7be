package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dshills/repoask/pkg/types"
)

// statusClientClosedRequest is reported when the caller went away
const statusClientClosedRequest = 499

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// classify maps an operation error to an HTTP status and error code
func classify(err error) (int, string) {
	var (
		srcErr *types.SourceAccessError
		nfErr  *types.IndexNotFoundError
		embErr *types.EmbeddingError
		genErr *types.GenerationError
	)

	// context errors come first: providers wrap them in typed errors
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, types.ErrInvalidRepo):
		return http.StatusBadRequest, "invalid_repo"
	case errors.Is(err, types.ErrEmptyQuestion):
		return http.StatusBadRequest, "empty_question"
	case errors.Is(err, types.ErrIndexInProgress):
		return http.StatusConflict, "index_in_progress"
	case errors.As(err, &nfErr):
		return http.StatusNotFound, "not_indexed"
	case errors.As(err, &srcErr):
		switch srcErr.Kind {
		case types.SourceNotFound:
			return http.StatusNotFound, "repo_not_found"
		case types.SourceRateLimited:
			return http.StatusTooManyRequests, "rate_limited"
		default:
			return http.StatusBadGateway, "source_unavailable"
		}
	case errors.As(err, &embErr):
		return http.StatusBadGateway, "embedding_failed"
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	detail := err.Error()
	var nfErr *types.IndexNotFoundError
	if errors.As(err, &nfErr) {
		detail = "repository " + string(nfErr.Repo) + " is not indexed; index the repository first"
	}
	if status == http.StatusInternalServerError {
		detail = "internal error"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"request_id", RequestID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"code", code,
		"error", err)

	writeJSON(w, status, errorBody{Detail: detail, Code: code})
}
