// Package embedder maps code units to fixed-length vectors.
//
// Every provider implements the Embedder capability interface. The provider
// is chosen once per run from configuration and passed into the pipeline;
// nothing downstream inspects which variant it holds.
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	guard, err := embedder.NewGuard(emb, cfg.Run())
//	if err != nil {
//	    return err // provider or dimension disagrees with the run
//	}
//
//	record, err := guard.Embed(ctx, unit.ID, text, unitContext)
//
// # Providers
//
//	hash    deterministic, offline; SHA-256 stream expanded to D floats
//	jina    Jina AI embeddings API (or any server with the same shape)
//	openai  OpenAI or an OpenAI-compatible server, via langchaingo
//
// The hash provider is a pure function of its input and is what tests use.
//
// # Caching
//
// Providers share an LRU cache keyed by the SHA-256 of text and context.
// Cached vectors are copied on the way in and out.
//
// # Error Handling
//
// Remote providers retry with exponential backoff. Client errors other than
// 429 are not retried. Guard turns provider failures and timeouts into
// *types.EmbeddingError, which the pipeline records as a placeholder for the
// unit. A vector of the wrong length is a *types.DimensionMismatchError and
// fails the run.
package embedder
