package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"examgen/internal/models"
)

// NewMemoryRepositories builds an in-memory repository set. Used by tests
// and by dry runs that should not touch Postgres.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Documents:   &memoryDocumentRepository{docs: map[string]models.Document{}},
		Chunks:      &memoryChunkRepository{chunks: map[string][]models.Chunk{}},
		Questions:   &memoryQuestionRepository{questions: map[string]models.Question{}},
		Evaluations: &memoryEvaluationRepository{evals: map[string][]models.Evaluation{}},
		Ratings:     &memoryRatingRepository{ratings: map[string][]models.Rating{}},
		Patterns:    &memoryPatternRepository{patterns: map[string]models.Pattern{}},
	}
}

type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	// order preserves insertion for List
	order []string
}

var _ DocumentRepository = (*memoryDocumentRepository)(nil)

func (r *memoryDocumentRepository) Create(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	r.docs[doc.ID] = *doc
	r.order = append(r.order, doc.ID)
	return nil
}

func (r *memoryDocumentRepository) Update(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, doc.ID)
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *memoryDocumentRepository) GetByID(_ context.Context, id string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return &doc, nil
}

func (r *memoryDocumentRepository) List(_ context.Context) ([]*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Document, 0, len(r.order))
	for _, id := range r.order {
		doc := r.docs[id]
		out = append(out, &doc)
	}
	return out, nil
}

type memoryChunkRepository struct {
	mu     sync.RWMutex
	chunks map[string][]models.Chunk
}

var _ ChunkRepository = (*memoryChunkRepository)(nil)

func (r *memoryChunkRepository) CreateBatch(_ context.Context, chunks []models.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunks[c.DocumentID] = append(r.chunks[c.DocumentID], c)
	}
	return nil
}

func (r *memoryChunkRepository) ListByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chunks := append([]models.Chunk(nil), r.chunks[documentID]...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

func (r *memoryChunkRepository) CountByDocument(_ context.Context, documentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks[documentID]), nil
}

type memoryQuestionRepository struct {
	mu        sync.RWMutex
	questions map[string]models.Question
	order     []string
}

var _ QuestionRepository = (*memoryQuestionRepository)(nil)

func (r *memoryQuestionRepository) Create(_ context.Context, q *models.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[q.ID]; ok {
		return fmt.Errorf("question %s already exists", q.ID)
	}
	r.questions[q.ID] = cloneQuestion(*q)
	r.order = append(r.order, q.ID)
	return nil
}

func (r *memoryQuestionRepository) Replace(_ context.Context, q *models.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[q.ID]; !ok {
		return fmt.Errorf("%w: question %s", models.ErrNotFound, q.ID)
	}
	r.questions[q.ID] = cloneQuestion(*q)
	return nil
}

func (r *memoryQuestionRepository) GetByID(_ context.Context, id string) (*models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questions[id]
	if !ok {
		return nil, fmt.Errorf("%w: question %s", models.ErrNotFound, id)
	}
	q = cloneQuestion(q)
	return &q, nil
}

func (r *memoryQuestionRepository) List(_ context.Context, limit, offset int) ([]*models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// newest first
	out := make([]*models.Question, 0, limit)
	for i := len(r.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		q := cloneQuestion(r.questions[r.order[i]])
		out = append(out, &q)
	}
	return out, nil
}

func cloneQuestion(q models.Question) models.Question {
	q.Options = append([]string(nil), q.Options...)
	q.Sources = append([]models.SourceRef(nil), q.Sources...)
	det := make(map[string]string, len(q.DetailedExplanations))
	for k, v := range q.DetailedExplanations {
		det[k] = v
	}
	q.DetailedExplanations = det
	return q
}

type memoryEvaluationRepository struct {
	mu    sync.RWMutex
	evals map[string][]models.Evaluation
}

var _ EvaluationRepository = (*memoryEvaluationRepository)(nil)

func (r *memoryEvaluationRepository) Append(_ context.Context, e *models.Evaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evals[e.QuestionID] = append(r.evals[e.QuestionID], *e)
	return nil
}

func (r *memoryEvaluationRepository) LatestByQuestion(_ context.Context, questionID string) (*models.Evaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evals := r.evals[questionID]
	if len(evals) == 0 {
		return nil, nil
	}
	e := evals[len(evals)-1]
	return &e, nil
}

func (r *memoryEvaluationRepository) ListByQuestion(_ context.Context, questionID string) ([]*models.Evaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Evaluation, 0, len(r.evals[questionID]))
	for i := range r.evals[questionID] {
		e := r.evals[questionID][i]
		out = append(out, &e)
	}
	return out, nil
}

type memoryRatingRepository struct {
	mu      sync.RWMutex
	ratings map[string][]models.Rating
}

var _ RatingRepository = (*memoryRatingRepository)(nil)

func (r *memoryRatingRepository) Append(_ context.Context, rating *models.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings[rating.QuestionID] = append(r.ratings[rating.QuestionID], *rating)
	return nil
}

func (r *memoryRatingRepository) LatestByQuestion(_ context.Context, questionID string) (*models.Rating, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ratings := r.ratings[questionID]
	if len(ratings) == 0 {
		return nil, nil
	}
	rt := ratings[len(ratings)-1]
	return &rt, nil
}

type memoryPatternRepository struct {
	mu       sync.RWMutex
	patterns map[string]models.Pattern
}

var _ PatternRepository = (*memoryPatternRepository)(nil)

func patternKey(signature, domain string) string {
	return domain + "\x00" + signature
}

func (r *memoryPatternRepository) Upsert(_ context.Context, p *models.Pattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.DerivedFrom = append([]string(nil), p.DerivedFrom...)
	r.patterns[patternKey(p.Signature, p.Domain)] = cp
	return nil
}

func (r *memoryPatternRepository) Get(_ context.Context, signature, domain string) (*models.Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[patternKey(signature, domain)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryPatternRepository) List(_ context.Context) ([]*models.Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		cp := p
		out = append(out, &cp)
	}
	sortPatterns(out)
	return out, nil
}

func (r *memoryPatternRepository) TopByDomain(_ context.Context, domain string, n int) ([]*models.Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Pattern
	for _, p := range r.patterns {
		if p.Domain == domain || p.Domain == "" {
			cp := p
			out = append(out, &cp)
		}
	}
	sortPatterns(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *memoryPatternRepository) Delete(_ context.Context, signature, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.patterns, patternKey(signature, domain))
	return nil
}

// sortPatterns orders by weight descending, then signature ascending so
// prompt construction is deterministic.
func sortPatterns(ps []*models.Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Weight != ps[j].Weight {
			return ps[i].Weight > ps[j].Weight
		}
		if ps[i].Signature != ps[j].Signature {
			return ps[i].Signature < ps[j].Signature
		}
		return ps[i].Domain < ps[j].Domain
	})
}
