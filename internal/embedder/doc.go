// Package embedder turns text into vector embeddings for sentence pairs.
//
// Three providers are available. OpenAI (1536 dimensions, matching the
// similarity model's default input size) and Jina share one HTTP
// implementation, HTTPProvider, which batches texts, retries transient
// failures with exponential backoff and keeps results in an LRU cache keyed
// by the SHA-256 of model and text. The local provider derives a unit vector
// from the text hash and needs no network access.
//
// # Provider Selection
//
// NewFromEnv picks a provider in this order:
//
//  1. FINETUNE_EMBEDDING_PROVIDER if set
//  2. openai if OPENAI_API_KEY is set
//  3. jina if JINA_API_KEY is set
//  4. local otherwise
//
// # Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"a cat sat", "a feline rested"},
//	})
//
// Embeddings in the response are in request order. Errors from remote
// providers wrap ErrProviderFailed.
package embedder
