// Package embedder generates vector embeddings for repository chunks and
// questions.
//
// Four providers implement the Embedder interface:
//
//   - openai: any OpenAI-compatible /embeddings endpoint; the base URL is
//     configurable so Jina and self-hosted gateways work too
//   - gemini: Google Generative Language batchEmbedContents
//   - ollama: a local Ollama instance (/api/embed)
//   - local: deterministic hashed bag-of-words vectors, no network needed
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: embedder.ProviderGemini,
//	    APIKey:   cfg.Embedder.APIKey,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "def main():",
//	})
//
// # Orchestration
//
// Providers make exactly one API call per GenerateBatch. Retrying, batching
// and concurrency limits live in the Orchestrator:
//
//	orch := embedder.NewOrchestrator(emb, embedder.OrchestratorConfig{
//	    BatchSize:   32,
//	    Parallelism: 4,
//	    Retry:       retry.DefaultPolicy(),
//	}, logger)
//
//	stage := embedder.NewStage()
//	vectors, err := orch.Embed(ctx, stage, chunks)
//
// Each batch is retried with exponential backoff on transient failures
// (network errors, timeouts, 408, 429 and 5xx responses). Other client errors
// and malformed responses fail immediately. When any batch gives up, Embed
// returns a *types.EmbeddingError and no vectors at all.
//
// A Stage remembers successful batches for the lifetime of one index call, so
// retrying the call re-embeds only the batches that failed.
//
// # Caching
//
// When Config.CacheSize is positive, providers keep an LRU cache keyed by
// model and text hash and send only uncached texts to the API.
package embedder
