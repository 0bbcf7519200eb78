package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"examgen/internal/config"
	"examgen/internal/models"

	"github.com/philippgille/chromem-go"
)

const compress = false

// Store keeps one chromem collection of chunk embeddings per document.
// Embeddings are written exactly once at ingest and read back on every
// retrieval; the collection never computes embeddings itself.
type Store struct {
	db *chromem.DB
}

// Result is one retrieved chunk with its similarity to the query.
type Result struct {
	Chunk      models.Chunk
	Similarity float32
}

func New(cfg *config.VectorDBConfig) (*Store, error) {
	if cfg == nil || cfg.InMemory {
		return &Store{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector database: %w", err)
	}
	return &Store{db: db}, nil
}

func collectionName(documentID string) string {
	return "doc-" + documentID
}

// noEmbed guards against chromem ever being asked to embed: every write
// and query carries a precomputed vector.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding must be precomputed")
}

// AddChunks stores the chunks of a document with their precomputed
// embeddings. len(embeddings) must equal len(chunks).
func (s *Store) AddChunks(ctx context.Context, documentID string, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	c, err := s.db.GetOrCreateCollection(collectionName(documentID), nil, noEmbed)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("%s-%d", documentID, chunk.Seq),
			Content: chunk.Text,
			Metadata: map[string]string{
				"document_id": documentID,
				"seq":         strconv.Itoa(chunk.Seq),
				"page":        strconv.Itoa(chunk.Page),
			},
			Embedding: embeddings[i],
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	return nil
}

// Count reports how many chunks are indexed for a document.
func (s *Store) Count(documentID string) int {
	c := s.db.GetCollection(collectionName(documentID), noEmbed)
	if c == nil {
		return 0
	}
	return c.Count()
}

// Query returns up to k chunks nearest to the query embedding. k is
// clamped to the collection size. Ordering of equal similarities is up to
// the caller to pin down.
func (s *Store) Query(ctx context.Context, documentID string, queryEmbedding []float32, k int) ([]Result, error) {
	c := s.db.GetCollection(collectionName(documentID), noEmbed)
	if c == nil || c.Count() == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNoContent, documentID)
	}
	if k > c.Count() {
		k = c.Count()
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		seq, err := strconv.Atoi(r.Metadata["seq"])
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk metadata: %w", err)
		}
		page, err := strconv.Atoi(r.Metadata["page"])
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk metadata: %w", err)
		}
		out = append(out, Result{
			Chunk: models.Chunk{
				DocumentID: documentID,
				Seq:        seq,
				Text:       r.Content,
				Page:       page,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// DeleteDocument drops a document's collection. Missing collections are
// not an error.
func (s *Store) DeleteDocument(documentID string) error {
	return s.db.DeleteCollection(collectionName(documentID))
}
