// Package vectorstore defines the namespaced vector index used for
// retrieval and an in-memory implementation backed by coder/hnsw.
//
// Every repository owns exactly one namespace. Search results are ordered
// by descending cosine similarity with ties broken by ascending record ID,
// so identical inputs always produce identical output regardless of the
// implementation. storage.SQLiteStorage provides the persistent
// implementation of the same interface.
//
//	store := vectorstore.NewHNSWStore(vectorstore.HNSWConfig{})
//	err := store.Upsert(ctx, "octo/demo", records)
//	hits, err := store.Search(ctx, "octo/demo", query, 5)
package vectorstore
