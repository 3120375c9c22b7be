package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index or incrementally re-index a GitHub repository so it can be queried",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo": map[string]interface{}{
					"type":        "string",
					"description": "Repository as owner/name, e.g. golang/go",
					"pattern":     "^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$",
				},
			},
			Required: []string{"repo"},
		},
	}
}

// askRepositoryTool returns the tool definition for ask_repository
func askRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_repository",
		Description: "Answer a question about an indexed repository using only retrieved source passages, with file and line citations",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo": map[string]interface{}{
					"type":        "string",
					"description": "Repository as owner/name; must have been indexed",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language question about the code",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of passages to retrieve (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     50,
				},
			},
			Required: []string{"repo", "question"},
		},
	}
}

// listRepositoriesTool returns the tool definition for list_repositories
func listRepositoriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_repositories",
		Description: "List indexed repositories with their head commit and index statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
