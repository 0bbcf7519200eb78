package retriever

import (
	"context"
	"testing"

	"examgen/internal/config"
	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	store, err := vectorstore.New(&config.VectorDBConfig{InMemory: true})
	require.NoError(t, err)
	return store
}

func indexChunks(t *testing.T, store *vectorstore.Store, documentID string, texts []string) {
	t.Helper()
	embedder := llm.StaticEmbedder{}
	chunks := make([]models.Chunk, len(texts))
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{DocumentID: documentID, Seq: i, Text: text, Page: 1}
		emb, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		embeddings[i] = emb
	}
	require.NoError(t, store.AddChunks(context.Background(), documentID, chunks, embeddings))
}

func TestRetrieveNoContent(t *testing.T) {
	r := New(newStore(t), llm.StaticEmbedder{})
	_, err := r.Retrieve(context.Background(), "missing-doc", "anything", 3)
	assert.ErrorIs(t, err, models.ErrNoContent)
}

func TestRetrieveIdempotent(t *testing.T) {
	store := newStore(t)
	indexChunks(t, store, "doc-1", []string{
		"kubernetes pods share a network namespace",
		"terraform state tracks managed resources",
		"postgres vacuums reclaim dead tuples",
	})
	r := New(store, llm.StaticEmbedder{})

	first, err := r.Retrieve(context.Background(), "doc-1", "how do pods network", 3)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "doc-1", "how do pods network", 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score)
	}
}

func TestRetrieveTiesBreakBySequence(t *testing.T) {
	store := newStore(t)
	// Identical texts embed identically, forcing a similarity tie.
	indexChunks(t, store, "doc-2", []string{
		"identical passage text",
		"identical passage text",
		"identical passage text",
	})
	r := New(store, llm.StaticEmbedder{})

	got, err := r.Retrieve(context.Background(), "doc-2", "passage", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Chunk.Seq)
	assert.Equal(t, 1, got[1].Chunk.Seq)
	assert.Equal(t, 2, got[2].Chunk.Seq)
}

func TestRetrieveTiesAcrossKBoundary(t *testing.T) {
	store := newStore(t)
	// More tied chunks than requested: the k-cut itself must honor the
	// sequence tie-break, not just the ordering of whatever survives it.
	texts := make([]string, 6)
	for i := range texts {
		texts[i] = "identical passage text"
	}
	indexChunks(t, store, "doc-4", texts)
	r := New(store, llm.StaticEmbedder{})

	for i := 0; i < 20; i++ {
		got, err := r.Retrieve(context.Background(), "doc-4", "passage", 2)
		require.NoError(t, err)
		require.Len(t, got, 2, "iteration %d", i)
		assert.Equal(t, 0, got[0].Chunk.Seq, "iteration %d", i)
		assert.Equal(t, 1, got[1].Chunk.Seq, "iteration %d", i)
	}
}

func TestRetrieveClampsK(t *testing.T) {
	store := newStore(t)
	indexChunks(t, store, "doc-3", []string{"only one chunk here"})
	r := New(store, llm.StaticEmbedder{})

	got, err := r.Retrieve(context.Background(), "doc-3", "chunk", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
