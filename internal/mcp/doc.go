// Package mcp implements the Model Context Protocol (MCP) server for repoask.
//
// The MCP server exposes three tools to AI coding assistants:
//   - index_repository: index or incrementally re-index a GitHub repository
//   - ask_repository: answer a question from retrieved, cited passages
//   - list_repositories: list indexed repositories and their statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {"repo": "octo/demo"}
//	}
//
//	Response:
//	{
//	  "repo": "octo/demo",
//	  "head": "9f2c1e0",
//	  "indexed": 2,
//	  "updated": 1,
//	  "added": 0,
//	  "unchanged": 14,
//	  "deleted": 0,
//	  "files": 15,
//	  "chunks": 41,
//	  "note": "Indexed",
//	  "duration_ms": 812
//	}
//
// "indexed" counts chunks embedded by this run and "updated" counts files
// whose content changed. A second call while a run for the same repository
// is in flight fails with ErrorCodeIndexingInProgress instead of waiting.
//
// # Tool: ask_repository
//
//	Request:
//	{
//	  "name": "ask_repository",
//	  "arguments": {"repo": "octo/demo", "question": "Where is the CLI parsed?", "top_k": 5}
//	}
//
//	Response:
//	{
//	  "repo": "octo/demo",
//	  "answer": "Arguments are parsed in main.py ...",
//	  "citations": [
//	    {"path": "main.py", "rank": 1, "score": 0.82, "line_start": 1, "line_end": 50}
//	  ],
//	  "duration_ms": 1430
//	}
//
// Citations list exactly the passages given to the model, ranked from 1.
// Passages without line information are cited by path only.
//
// # Tool: list_repositories
//
//	Response:
//	{
//	  "repos": [
//	    {"repo": "octo/demo", "head": "9f2c1e0", "last_indexed": "2026-03-01T12:00:00Z", "files": 15, "chunks": 41}
//	  ]
//	}
//
// # Error Codes
//
//	-32602  invalid params (missing repo, malformed owner/name, top_k out of range)
//	-32603  internal error (embedding or generation failure, storage errors)
//	-32002  indexing already in progress for the repository
//	-32003  repository not indexed
//	-32004  empty question
//	-32005  repository source unavailable (not found, private, rate limited)
package mcp
