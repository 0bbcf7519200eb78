package retriever

import (
	"context"
	"fmt"
	"sort"

	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/vectorstore"
)

// ScoredChunk pairs a retrieved chunk with its relevance to the query.
type ScoredChunk struct {
	Chunk models.Chunk
	Score float32
}

// Retriever ranks a document's chunks against a query using the cached
// chunk embeddings. Only the query itself is embedded per call.
type Retriever struct {
	store    *vectorstore.Store
	embedder llm.Embedder
}

func New(store *vectorstore.Store, embedder llm.Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// Retrieve returns the top-k chunks most relevant to the query, most
// relevant first, ties broken by ascending chunk sequence. Identical
// inputs over an unchanged chunk set return the same ordered list.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) ([]ScoredChunk, error) {
	count := r.store.Count(documentID)
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNoContent, documentID)
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", models.ErrGenerationUnavailable, err)
	}

	// Fetch the whole collection, not just k: the index's k-cut is not
	// stable under equal similarities, so ties straddling the boundary
	// would make the returned set arbitrary. Rank here, then truncate.
	results, err := r.store.Query(ctx, documentID, queryEmbedding, count)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, len(results))
	for i, res := range results {
		scored[i] = ScoredChunk{Chunk: res.Chunk, Score: res.Similarity}
	}

	// The index's ordering of equal similarities is unspecified; pin it.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.Seq < scored[j].Chunk.Seq
	})

	if k < 0 {
		k = 0
	}
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
