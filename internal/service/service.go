package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"examgen/internal/config"
	"examgen/internal/evaluator"
	"examgen/internal/generator"
	"examgen/internal/helper"
	"examgen/internal/learning"
	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/parser"
	"examgen/internal/repositories"
	"examgen/internal/vectorstore"

	"github.com/rs/zerolog/log"
)

// Service is the pipeline facade: ingest, generate, improve, evaluate,
// rate, and the admin review feed. All persistence goes through here.
type Service struct {
	repos     *repositories.Repositories
	store     *vectorstore.Store
	embedder  llm.Embedder
	generator *generator.Generator
	evaluator *evaluator.Evaluator
	learner   *learning.Learner
	cfg       *config.Config

	// ingestMu serializes chunk and index writes per source filename so
	// concurrent ingests of the same file cannot interleave embeddings.
	// Keying on the document ID would never contend: every ingest mints
	// a fresh one.
	ingestMu keyedMutex
}

func New(repos *repositories.Repositories, store *vectorstore.Store, embedder llm.Embedder, gen *generator.Generator, eval *evaluator.Evaluator, learner *learning.Learner, cfg *config.Config) *Service {
	return &Service{
		repos:     repos,
		store:     store,
		embedder:  embedder,
		generator: gen,
		evaluator: eval,
		learner:   learner,
		cfg:       cfg,
	}
}

// IngestDocument chunks the raw bytes, embeds every chunk once, and
// persists chunks plus embeddings. The document comes back enabled and
// ready for generation. Unreadable or empty input yields
// ErrUnreadableDocument and nothing is stored.
func (s *Service) IngestDocument(ctx context.Context, raw []byte, filename string) (*models.Document, error) {
	chunks, err := parser.ChunkDocument(raw, filename, s.cfg)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:        helper.NewID(),
		Filename:  filename,
		Processed: false,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	unlock := s.ingestMu.lock(filename)
	defer unlock()

	embeddings := make([][]float32, len(chunks))
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		emb, err := s.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d: %w", chunks[i].Seq, err)
		}
		embeddings[i] = emb
	}

	if err := s.repos.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.repos.Chunks.CreateBatch(ctx, chunks); err != nil {
		return nil, err
	}
	if err := s.store.AddChunks(ctx, doc.ID, chunks, embeddings); err != nil {
		return nil, err
	}

	doc.Processed = true
	if err := s.repos.Documents.Update(ctx, doc); err != nil {
		return nil, err
	}

	log.Info().Str("document_id", doc.ID).Str("filename", filename).Int("chunks", len(chunks)).Msg("document ingested")
	return doc, nil
}

// GenerateQuestion creates and persists a new question for an enabled
// document. Evaluation is a separate call; a failure there leaves a
// valid unevaluated question behind.
func (s *Service) GenerateQuestion(ctx context.Context, documentID, query string) (*models.Question, error) {
	doc, err := s.repos.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Enabled {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentDisabled, documentID)
	}

	q, err := s.generator.Generate(ctx, doc, query)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Questions.Create(ctx, q); err != nil {
		return nil, err
	}
	log.Info().Str("question_id", q.ID).Str("document_id", documentID).Msg("question generated")
	return q, nil
}

// ImproveQuestion regenerates a question with admin feedback, replacing
// the stored record in place with version+1. Earlier evaluations stay
// on file but no longer describe the question (version scoping).
func (s *Service) ImproveQuestion(ctx context.Context, questionID, feedback string) (*models.Question, error) {
	prev, err := s.repos.Questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	doc, err := s.repos.Documents.GetByID(ctx, prev.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.Enabled {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentDisabled, doc.ID)
	}

	q, err := s.generator.Improve(ctx, doc, prev, feedback)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Questions.Replace(ctx, q); err != nil {
		return nil, err
	}
	log.Info().Str("question_id", q.ID).Int("version", q.Version).Msg("question improved")
	return q, nil
}

// EvaluateQuestion scores the question's current version and appends
// the evaluation. The latest admin rating is passed along as reviewer
// context when it targets the same version.
func (s *Service) EvaluateQuestion(ctx context.Context, questionID string) (*models.Evaluation, error) {
	q, err := s.repos.Questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}

	rating, err := s.repos.Ratings.LatestByQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if rating != nil && rating.QuestionVersion != q.Version {
		rating = nil
	}

	eval, err := s.evaluator.Evaluate(ctx, q, rating)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Evaluations.Append(ctx, eval); err != nil {
		return nil, err
	}
	log.Info().Str("question_id", questionID).Int("composite", eval.CompositeScore).Msg("question evaluated")
	return eval, nil
}

// RateQuestion records an admin rating for the question's current
// version and runs one learning cycle. Stars must be 1 through 5.
func (s *Service) RateQuestion(ctx context.Context, questionID string, stars int, comments string, approved bool) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("stars must be between 1 and 5, got %d", stars)
	}

	q, err := s.repos.Questions.GetByID(ctx, questionID)
	if err != nil {
		return err
	}

	rating := &models.Rating{
		ID:              helper.NewID(),
		QuestionID:      questionID,
		QuestionVersion: q.Version,
		Stars:           stars,
		AdminComments:   comments,
		Approved:        approved,
		RatedAt:         time.Now().UTC(),
	}
	if err := s.repos.Ratings.Append(ctx, rating); err != nil {
		return err
	}

	eval, err := s.repos.Evaluations.LatestByQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if err := s.learner.RecordRating(ctx, q, eval, rating); err != nil {
		return err
	}
	log.Info().Str("question_id", questionID).Int("stars", stars).Msg("question rated")
	return nil
}

// ListDocuments returns every ingested document.
func (s *Service) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return s.repos.Documents.List(ctx)
}

// SetDocumentEnabled toggles whether a document may be used for
// generation.
func (s *Service) SetDocumentEnabled(ctx context.Context, documentID string, enabled bool) error {
	doc, err := s.repos.Documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	doc.Enabled = enabled
	return s.repos.Documents.Update(ctx, doc)
}

// ListQuestions returns the admin review feed, newest first, each
// question bundled with its latest version-matched evaluation, latest
// rating and derived tier.
func (s *Service) ListQuestions(ctx context.Context, limit, offset int) ([]models.QuestionReview, error) {
	questions, err := s.repos.Questions.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	reviews := make([]models.QuestionReview, 0, len(questions))
	for _, q := range questions {
		eval, err := s.repos.Evaluations.LatestByQuestion(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		if eval != nil && eval.QuestionVersion != q.Version {
			eval = nil
		}
		rating, err := s.repos.Ratings.LatestByQuestion(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, models.QuestionReview{
			Question:   *q,
			Evaluation: eval,
			Rating:     rating,
			Tier:       learning.TierFor(rating, eval),
		})
	}
	return reviews, nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
