package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/repoask/internal/rag"
	"github.com/dshills/repoask/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Repository not indexed
	ErrorCodeEmptyQuery         = -32004 // Question parameter is empty
	ErrorCodeSourceAccess       = -32005 // Hosting provider refused or failed
)

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repo, ok := args["repo"].(string)
	if !ok || repo == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repo parameter is required", map[string]interface{}{
			"param":  "repo",
			"reason": "missing or empty",
		})
	}

	res, err := s.backend.TryIndex(ctx, repo)
	if err != nil {
		return nil, s.toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"repo":        string(res.Repo),
		"head":        res.Head,
		"indexed":     res.Indexed,
		"updated":     res.Updated,
		"added":       res.Added,
		"unchanged":   res.Unchanged,
		"deleted":     res.Deleted,
		"files":       res.Files,
		"chunks":      res.Chunks,
		"note":        res.Note(),
		"duration_ms": res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskRepository handles the ask_repository tool invocation
func (s *Server) handleAskRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repo, ok := args["repo"].(string)
	if !ok || repo == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repo parameter is required", map[string]interface{}{
			"param":  "repo",
			"reason": "missing or empty",
		})
	}

	question, _ := args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}
	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 50", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	res, err := s.backend.Ask(ctx, rag.AskRequest{Repo: repo, Question: question, TopK: topK})
	if err != nil {
		return nil, s.toMCPError("ask failed", err)
	}

	citations := make([]interface{}, 0, len(res.Citations))
	for _, c := range res.Citations {
		citations = append(citations, c)
	}
	response := map[string]interface{}{
		"repo":        string(res.Repo),
		"answer":      res.Answer,
		"citations":   citations,
		"duration_ms": res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListRepositories handles the list_repositories tool invocation
func (s *Server) handleListRepositories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.backend.Repositories(ctx)
	if err != nil {
		return nil, s.toMCPError("failed to list repositories", err)
	}

	list := make([]interface{}, 0, len(repos))
	for _, st := range repos {
		list = append(list, map[string]interface{}{
			"repo":         string(st.Repo),
			"head":         st.Head,
			"last_indexed": st.LastIndexedAt.Format(time.RFC3339),
			"files":        st.Files,
			"chunks":       st.Chunks,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"repos": list})), nil
}

// toMCPError maps an operation error to an MCP error code
func (s *Server) toMCPError(message string, err error) error {
	var (
		nfErr  *types.IndexNotFoundError
		srcErr *types.SourceAccessError
	)

	switch {
	case errors.Is(err, types.ErrInvalidRepo):
		return newMCPError(ErrorCodeInvalidParams, "invalid repo", map[string]interface{}{
			"param":  "repo",
			"reason": err.Error(),
		})
	case errors.Is(err, types.ErrEmptyQuestion):
		return newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	case errors.Is(err, types.ErrIndexInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress for this repository", nil)
	case errors.As(err, &nfErr):
		return newMCPError(ErrorCodeNotIndexed, "repository not indexed. Use index_repository first.", map[string]interface{}{
			"repo": string(nfErr.Repo),
		})
	case errors.As(err, &srcErr):
		return newMCPError(ErrorCodeSourceAccess, "repository source unavailable", map[string]interface{}{
			"repo":  string(srcErr.Repo),
			"kind":  string(srcErr.Kind),
			"error": err.Error(),
		})
	default:
		s.logger.Error(message, "error", err)
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
