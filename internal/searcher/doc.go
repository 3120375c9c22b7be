// Package searcher retrieves ranked, citable passages for a question.
//
// The question is embedded once (query vectors are kept in an LRU cache),
// the repository's namespace is searched for the K nearest chunks, and hits
// from the same file are merged:
//
//   - Located hits whose line ranges overlap, or whose gap is at most
//     Config.ProximityLines, become one passage covering the union range.
//     Its score is the best member score.
//   - Hits without usable line metadata become one file-level passage per
//     path, cited without a line range.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, vectors, orchestrator, searcher.Config{}, logger)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Repo:     "octo/demo",
//	    Question: "how is the config loaded?",
//	    TopK:     5,
//	})
//
//	for _, p := range resp.Passages {
//	    base := p.Citation.Base()
//	    fmt.Printf("[%d] %s (score: %.2f)\n", base.Rank, base.Path, base.Score)
//	}
//
// # Ranking
//
// Passages are ordered by descending score, then path, then starting line,
// then chunk ID, so identical inputs always produce identical output. Ranks
// are dense and start at 1. A repository that was never indexed yields
// *types.IndexNotFoundError; an indexed repository with no matching chunks
// yields an empty result.
package searcher
