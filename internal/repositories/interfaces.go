package repositories

import (
	"context"

	"examgen/internal/models"
)

// DocumentRepository owns the documents table.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	Update(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
}

// ChunkRepository owns the chunks table. Chunks are immutable; ordering
// is by sequence and must be preserved for citation fidelity.
type ChunkRepository interface {
	CreateBatch(ctx context.Context, chunks []models.Chunk) error
	ListByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// QuestionRepository owns the versioned questions table. Replace swaps
// the record in place for the same ID (the improve path).
type QuestionRepository interface {
	Create(ctx context.Context, q *models.Question) error
	Replace(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id string) (*models.Question, error)
	List(ctx context.Context, limit, offset int) ([]*models.Question, error)
}

// EvaluationRepository is append-only; history is retained so composites
// can always be recomputed. Latest* return (nil, nil) when none exists.
type EvaluationRepository interface {
	Append(ctx context.Context, e *models.Evaluation) error
	LatestByQuestion(ctx context.Context, questionID string) (*models.Evaluation, error)
	ListByQuestion(ctx context.Context, questionID string) ([]*models.Evaluation, error)
}

// RatingRepository is append-only; the most recent rating determines the
// current tier. LatestByQuestion returns (nil, nil) when none exists.
type RatingRepository interface {
	Append(ctx context.Context, r *models.Rating) error
	LatestByQuestion(ctx context.Context, questionID string) (*models.Rating, error)
}

// PatternRepository owns the learned prompt fragments, keyed by
// (signature, domain).
type PatternRepository interface {
	Upsert(ctx context.Context, p *models.Pattern) error
	Get(ctx context.Context, signature, domain string) (*models.Pattern, error)
	List(ctx context.Context) ([]*models.Pattern, error)
	TopByDomain(ctx context.Context, domain string, n int) ([]*models.Pattern, error)
	Delete(ctx context.Context, signature, domain string) error
}

// Repositories bundles every store the pipeline needs.
type Repositories struct {
	Documents   DocumentRepository
	Chunks      ChunkRepository
	Questions   QuestionRepository
	Evaluations EvaluationRepository
	Ratings     RatingRepository
	Patterns    PatternRepository
}
