package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"examgen/internal/config"
	"examgen/internal/models"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// ConnectDB opens the Postgres connection described by the config.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password))), nil
}

// NewDB wraps the connection with bun and, when debug is on, a verbose
// query hook.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates every pipeline table if missing.
func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{
		(*documentRow)(nil),
		(*chunkRow)(nil),
		(*questionRow)(nil),
		(*evaluationRow)(nil),
		(*ratingRow)(nil),
		(*patternRow)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NewBunRepositories builds the Postgres-backed repository set.
func NewBunRepositories(db *bun.DB) *Repositories {
	return &Repositories{
		Documents:   &bunDocumentRepository{db: db},
		Chunks:      &bunChunkRepository{db: db},
		Questions:   &bunQuestionRepository{db: db},
		Evaluations: &bunEvaluationRepository{db: db},
		Ratings:     &bunRatingRepository{db: db},
		Patterns:    &bunPatternRepository{db: db},
	}
}

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string    `bun:"id,pk"`
	Filename      string    `bun:"filename,notnull"`
	RawRef        string    `bun:"raw_ref"`
	Processed     bool      `bun:"processed,notnull,default:false"`
	Enabled       bool      `bun:"enabled,notnull,default:false"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	DocumentID    string `bun:"document_id,pk"`
	Seq           int    `bun:"seq,pk"`
	Text          string `bun:"text,notnull"`
	Page          int    `bun:"page,notnull"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions,alias:q"`
	ID            string    `bun:"id,pk"`
	DocumentID    string    `bun:"document_id,notnull"`
	Query         string    `bun:"query,notnull"`
	Text          string    `bun:"text,notnull"`
	Options       string    `bun:"options,notnull"`       // JSON array
	CorrectAnswer string    `bun:"correct_answer,notnull"`
	Explanation   string    `bun:"explanation"`
	Detailed      string    `bun:"detailed_explanations"` // JSON object
	Sources       string    `bun:"sources"`               // JSON array
	DocumentUsed  string    `bun:"document_used"`
	Version       int       `bun:"version,notnull,default:1"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type evaluationRow struct {
	bun.BaseModel   `bun:"table:evaluations,alias:e"`
	ID              string    `bun:"id,pk"`
	QuestionID      string    `bun:"question_id,notnull"`
	QuestionVersion int       `bun:"question_version,notnull"`
	Scores          string    `bun:"criterion_scores,notnull"` // JSON object
	Rationales      string    `bun:"rationales"`               // JSON object
	Composite       int       `bun:"composite_score,notnull"`
	EvaluatedAt     time.Time `bun:"evaluated_at,notnull"`
}

type ratingRow struct {
	bun.BaseModel   `bun:"table:ratings,alias:r"`
	ID              string    `bun:"id,pk"`
	QuestionID      string    `bun:"question_id,notnull"`
	QuestionVersion int       `bun:"question_version,notnull"`
	Stars           int       `bun:"stars,notnull"`
	AdminComments   string    `bun:"admin_comments"`
	Approved        bool      `bun:"approved,notnull,default:false"`
	RatedAt         time.Time `bun:"rated_at,notnull"`
}

type patternRow struct {
	bun.BaseModel `bun:"table:patterns,alias:p"`
	Signature     string    `bun:"signature,pk"`
	Domain        string    `bun:"domain,pk"`
	Fragment      string    `bun:"fragment,notnull"`
	DerivedFrom   string    `bun:"derived_from"` // JSON array
	Weight        float64   `bun:"weight,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

type bunDocumentRepository struct{ db *bun.DB }

var _ DocumentRepository = (*bunDocumentRepository)(nil)

func (r *bunDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	row := documentRow{
		ID: doc.ID, Filename: doc.Filename, RawRef: doc.RawRef,
		Processed: doc.Processed, Enabled: doc.Enabled, CreatedAt: doc.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (r *bunDocumentRepository) Update(ctx context.Context, doc *models.Document) error {
	row := documentRow{
		ID: doc.ID, Filename: doc.Filename, RawRef: doc.RawRef,
		Processed: doc.Processed, Enabled: doc.Enabled, CreatedAt: doc.CreatedAt,
	}
	res, err := r.db.NewUpdate().Model(&row).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, doc.ID)
	}
	return nil
}

func (r *bunDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var row documentRow
	err := r.db.NewSelect().Model(&row).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting document: %w", err)
	}
	return &models.Document{
		ID: row.ID, Filename: row.Filename, RawRef: row.RawRef,
		Processed: row.Processed, Enabled: row.Enabled, CreatedAt: row.CreatedAt,
	}, nil
}

func (r *bunDocumentRepository) List(ctx context.Context) ([]*models.Document, error) {
	var rows []documentRow
	if err := r.db.NewSelect().Model(&rows).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	out := make([]*models.Document, len(rows))
	for i, row := range rows {
		out[i] = &models.Document{
			ID: row.ID, Filename: row.Filename, RawRef: row.RawRef,
			Processed: row.Processed, Enabled: row.Enabled, CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

type bunChunkRepository struct{ db *bun.DB }

var _ ChunkRepository = (*bunChunkRepository)(nil)

func (r *bunChunkRepository) CreateBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]chunkRow, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkRow{DocumentID: c.DocumentID, Seq: c.Seq, Text: c.Text, Page: c.Page}
	}
	if _, err := r.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}
	return nil
}

func (r *bunChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	var rows []chunkRow
	err := r.db.NewSelect().Model(&rows).
		Where("c.document_id = ?", documentID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	chunks := make([]models.Chunk, len(rows))
	for i, row := range rows {
		chunks[i] = models.Chunk{DocumentID: row.DocumentID, Seq: row.Seq, Text: row.Text, Page: row.Page}
	}
	return chunks, nil
}

func (r *bunChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	count, err := r.db.NewSelect().Model((*chunkRow)(nil)).
		Where("c.document_id = ?", documentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

type bunQuestionRepository struct{ db *bun.DB }

var _ QuestionRepository = (*bunQuestionRepository)(nil)

func questionToRow(q *models.Question) (*questionRow, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return nil, fmt.Errorf("marshalling options: %w", err)
	}
	detailed, err := json.Marshal(q.DetailedExplanations)
	if err != nil {
		return nil, fmt.Errorf("marshalling detailed explanations: %w", err)
	}
	sources, err := json.Marshal(q.Sources)
	if err != nil {
		return nil, fmt.Errorf("marshalling sources: %w", err)
	}
	return &questionRow{
		ID: q.ID, DocumentID: q.DocumentID, Query: q.Query, Text: q.Text,
		Options: string(options), CorrectAnswer: q.CorrectAnswer,
		Explanation: q.Explanation, Detailed: string(detailed),
		Sources: string(sources), DocumentUsed: q.DocumentUsed,
		Version: q.Version, CreatedAt: q.CreatedAt,
	}, nil
}

func rowToQuestion(row *questionRow) (*models.Question, error) {
	q := models.Question{
		ID: row.ID, DocumentID: row.DocumentID, Query: row.Query, Text: row.Text,
		CorrectAnswer: row.CorrectAnswer, Explanation: row.Explanation,
		DocumentUsed: row.DocumentUsed, Version: row.Version, CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Options), &q.Options); err != nil {
		return nil, fmt.Errorf("unmarshalling options: %w", err)
	}
	if row.Detailed != "" {
		if err := json.Unmarshal([]byte(row.Detailed), &q.DetailedExplanations); err != nil {
			return nil, fmt.Errorf("unmarshalling detailed explanations: %w", err)
		}
	}
	if row.Sources != "" {
		if err := json.Unmarshal([]byte(row.Sources), &q.Sources); err != nil {
			return nil, fmt.Errorf("unmarshalling sources: %w", err)
		}
	}
	return &q, nil
}

func (r *bunQuestionRepository) Create(ctx context.Context, q *models.Question) error {
	row, err := questionToRow(q)
	if err != nil {
		return err
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}
	return nil
}

func (r *bunQuestionRepository) Replace(ctx context.Context, q *models.Question) error {
	row, err := questionToRow(q)
	if err != nil {
		return err
	}
	res, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("replacing question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: question %s", models.ErrNotFound, q.ID)
	}
	return nil
}

func (r *bunQuestionRepository) GetByID(ctx context.Context, id string) (*models.Question, error) {
	var row questionRow
	err := r.db.NewSelect().Model(&row).Where("q.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: question %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting question: %w", err)
	}
	return rowToQuestion(&row)
}

func (r *bunQuestionRepository) List(ctx context.Context, limit, offset int) ([]*models.Question, error) {
	var rows []questionRow
	err := r.db.NewSelect().Model(&rows).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	out := make([]*models.Question, len(rows))
	for i := range rows {
		q, err := rowToQuestion(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

type bunEvaluationRepository struct{ db *bun.DB }

var _ EvaluationRepository = (*bunEvaluationRepository)(nil)

func (r *bunEvaluationRepository) Append(ctx context.Context, e *models.Evaluation) error {
	scores, err := json.Marshal(e.CriterionScores)
	if err != nil {
		return fmt.Errorf("marshalling criterion scores: %w", err)
	}
	rationales, err := json.Marshal(e.Rationales)
	if err != nil {
		return fmt.Errorf("marshalling rationales: %w", err)
	}
	row := evaluationRow{
		ID: e.ID, QuestionID: e.QuestionID, QuestionVersion: e.QuestionVersion,
		Scores: string(scores), Rationales: string(rationales),
		Composite: e.CompositeScore, EvaluatedAt: e.EvaluatedAt,
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}
	return nil
}

func rowToEvaluation(row *evaluationRow) (*models.Evaluation, error) {
	e := models.Evaluation{
		ID: row.ID, QuestionID: row.QuestionID, QuestionVersion: row.QuestionVersion,
		CompositeScore: row.Composite, EvaluatedAt: row.EvaluatedAt,
	}
	if err := json.Unmarshal([]byte(row.Scores), &e.CriterionScores); err != nil {
		return nil, fmt.Errorf("unmarshalling criterion scores: %w", err)
	}
	if row.Rationales != "" {
		if err := json.Unmarshal([]byte(row.Rationales), &e.Rationales); err != nil {
			return nil, fmt.Errorf("unmarshalling rationales: %w", err)
		}
	}
	return &e, nil
}

func (r *bunEvaluationRepository) LatestByQuestion(ctx context.Context, questionID string) (*models.Evaluation, error) {
	var row evaluationRow
	err := r.db.NewSelect().Model(&row).
		Where("e.question_id = ?", questionID).
		Order("evaluated_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting evaluation: %w", err)
	}
	return rowToEvaluation(&row)
}

func (r *bunEvaluationRepository) ListByQuestion(ctx context.Context, questionID string) ([]*models.Evaluation, error) {
	var rows []evaluationRow
	err := r.db.NewSelect().Model(&rows).
		Where("e.question_id = ?", questionID).
		Order("evaluated_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}
	out := make([]*models.Evaluation, len(rows))
	for i := range rows {
		e, err := rowToEvaluation(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

type bunRatingRepository struct{ db *bun.DB }

var _ RatingRepository = (*bunRatingRepository)(nil)

func (r *bunRatingRepository) Append(ctx context.Context, rating *models.Rating) error {
	row := ratingRow{
		ID: rating.ID, QuestionID: rating.QuestionID, QuestionVersion: rating.QuestionVersion,
		Stars: rating.Stars, AdminComments: rating.AdminComments,
		Approved: rating.Approved, RatedAt: rating.RatedAt,
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting rating: %w", err)
	}
	return nil
}

func (r *bunRatingRepository) LatestByQuestion(ctx context.Context, questionID string) (*models.Rating, error) {
	var row ratingRow
	err := r.db.NewSelect().Model(&row).
		Where("r.question_id = ?", questionID).
		Order("rated_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting rating: %w", err)
	}
	return &models.Rating{
		ID: row.ID, QuestionID: row.QuestionID, QuestionVersion: row.QuestionVersion,
		Stars: row.Stars, AdminComments: row.AdminComments,
		Approved: row.Approved, RatedAt: row.RatedAt,
	}, nil
}

type bunPatternRepository struct{ db *bun.DB }

var _ PatternRepository = (*bunPatternRepository)(nil)

func (r *bunPatternRepository) Upsert(ctx context.Context, p *models.Pattern) error {
	derived, err := json.Marshal(p.DerivedFrom)
	if err != nil {
		return fmt.Errorf("marshalling derived question ids: %w", err)
	}
	row := patternRow{
		Signature: p.Signature, Domain: p.Domain, Fragment: p.Fragment,
		DerivedFrom: string(derived), Weight: p.Weight, UpdatedAt: p.UpdatedAt,
	}
	_, err = r.db.NewInsert().Model(&row).
		On("CONFLICT (signature, domain) DO UPDATE").
		Set("fragment = EXCLUDED.fragment").
		Set("derived_from = EXCLUDED.derived_from").
		Set("weight = EXCLUDED.weight").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting pattern: %w", err)
	}
	return nil
}

func rowToPattern(row *patternRow) (*models.Pattern, error) {
	p := models.Pattern{
		Signature: row.Signature, Domain: row.Domain, Fragment: row.Fragment,
		Weight: row.Weight, UpdatedAt: row.UpdatedAt,
	}
	if row.DerivedFrom != "" {
		if err := json.Unmarshal([]byte(row.DerivedFrom), &p.DerivedFrom); err != nil {
			return nil, fmt.Errorf("unmarshalling derived question ids: %w", err)
		}
	}
	return &p, nil
}

func (r *bunPatternRepository) Get(ctx context.Context, signature, domain string) (*models.Pattern, error) {
	var row patternRow
	err := r.db.NewSelect().Model(&row).
		Where("p.signature = ?", signature).
		Where("p.domain = ?", domain).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pattern: %w", err)
	}
	return rowToPattern(&row)
}

func (r *bunPatternRepository) List(ctx context.Context) ([]*models.Pattern, error) {
	var rows []patternRow
	err := r.db.NewSelect().Model(&rows).
		Order("weight DESC", "signature ASC", "domain ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	out := make([]*models.Pattern, len(rows))
	for i := range rows {
		p, err := rowToPattern(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (r *bunPatternRepository) TopByDomain(ctx context.Context, domain string, n int) ([]*models.Pattern, error) {
	var rows []patternRow
	err := r.db.NewSelect().Model(&rows).
		Where("p.domain = ? OR p.domain = ''", domain).
		Order("weight DESC", "signature ASC", "domain ASC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patterns by domain: %w", err)
	}
	out := make([]*models.Pattern, len(rows))
	for i := range rows {
		p, err := rowToPattern(&rows[i])
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (r *bunPatternRepository) Delete(ctx context.Context, signature, domain string) error {
	_, err := r.db.NewDelete().Model((*patternRow)(nil)).
		Where("signature = ?", signature).
		Where("domain = ?", domain).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting pattern: %w", err)
	}
	return nil
}
