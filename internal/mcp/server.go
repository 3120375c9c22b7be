package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repoask/internal/indexer"
	"github.com/dshills/repoask/internal/rag"
	"github.com/dshills/repoask/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoask"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend is the operation surface exposed as tools
type Backend interface {
	TryIndex(ctx context.Context, repo string) (*indexer.Result, error)
	Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResult, error)
	Repositories(ctx context.Context) ([]types.RepoStatus, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(backend Backend, version string, logger *slog.Logger) *Server {
	if version == "" {
		version = ServerVersion
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		backend: backend,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(askRepositoryTool(), s.handleAskRepository)
	s.mcp.AddTool(listRepositoriesTool(), s.handleListRepositories)
}
