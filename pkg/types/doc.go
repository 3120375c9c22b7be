// Package types provides shared type definitions for repoask.
//
// This package defines the domain types used across the indexing pipeline and
// the retrieval engine: repository identifiers, chunks, source file
// fingerprints, citations, and the error taxonomy surfaced to callers.
//
// # Core Types
//
// RepoID identifies a remote repository and its vector store namespace:
//
//	repo, err := types.ParseRepoID("octo/demo")
//
// Chunk represents a line-bounded window of one file:
//
//	chunk := types.Chunk{
//	    ID:        "3f0c…",
//	    Path:      "main.py",
//	    LineStart: 1,
//	    LineEnd:   40,
//	}
//
// # Citations
//
// Citation is a tagged variant. LocatedCitation carries a line range,
// FileCitation only a path. Switch on the concrete type or use LineRange:
//
//	switch c := citation.(type) {
//	case types.LocatedCitation:
//	    fmt.Printf("%s:%d-%d\n", c.Path, c.LineStart, c.LineEnd)
//	case types.FileCitation:
//	    fmt.Println(c.Path)
//	}
//
// # Errors
//
// SourceAccessError, EmbeddingError, IndexNotFoundError and GenerationError
// are recovered at the operation boundary and mapped to structured responses.
// Use errors.As to inspect them.
package types
