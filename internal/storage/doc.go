// Package storage provides SQLite-based persistence for repoask.
//
// A single database holds both halves of an index:
//   - File fingerprints and committed run summaries (fingerprint.Store)
//   - Chunk vectors and their metadata, partitioned by namespace (vectorstore.Store)
//
// # Database Schema
//
// Tables:
//   - repositories: One row per committed index run (head, timestamp, totals)
//   - files: Per-file content hash and the ordered IDs of its chunks
//   - chunks: Vector blobs plus path, line range, content hash and text
//   - schema_version: Applied migrations, compared with semver
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.repoask/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Upsert(ctx, repo.Namespace(), records)
//	hits, err := db.Search(ctx, repo.Namespace(), queryVector, 5)
//
// Upsert and Delete each run in one transaction, so a failed call leaves
// the namespace as it was.
//
// # Build Tags
//
// With -tags sqlite_vec the mattn/go-sqlite3 driver is used and the
// sqlite-vec extension computes cosine distance in SQL. Without it (or with
// -tags purego) the pure Go modernc.org/sqlite driver is used and
// similarity is computed in Go. Both paths return identical ordering:
// descending score, ties broken by ascending chunk ID.
package storage
