package llm

import "context"

// Completer is the text-generation capability consumed by the generator
// and the evaluator. Production implementations call an external model;
// tests use the deterministic stubs in stub.go.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder is the embedding capability consumed by ingestion and
// retrieval. Embedding is a pure function of the input text, so results
// are cacheable per exact input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
