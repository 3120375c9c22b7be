// Package indexer keeps a repository's vector index in step with its source.
//
// A run lists the repository, fingerprints every text file, classifies each
// path against the last snapshot and embeds only new and changed files:
//
//	idx := indexer.New(src, chunker, orchestrator, fingerprints, vectors, indexer.Config{}, logger)
//	res, err := idx.IndexRepository(ctx, "octo/demo")
//	fmt.Printf("embedded %d chunks, %d files changed\n", res.Indexed, res.Updated)
//
// # Consistency
//
// All embedding happens before the index is touched; an embedding failure
// leaves the previous index intact. Changes are then applied file by file in
// path order: new vectors are upserted, vectors the file no longer owns are
// deleted, and the file's fingerprint is written last. Readers therefore
// never see a file without chunks, and a cancelled run resumes where it
// stopped because committed files classify as unchanged next time.
//
// # Concurrency
//
// Runs of the same repository are serialized by an in-process IndexLock and,
// when Config.LockDir is set, a gofrs/flock file lock shared by every process
// using that directory. Different repositories index in parallel.
package indexer
