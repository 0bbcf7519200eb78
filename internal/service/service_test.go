package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"examgen/internal/config"
	"examgen/internal/evaluator"
	"examgen/internal/generator"
	"examgen/internal/learning"
	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/repositories"
	"examgen/internal/retriever"
	"examgen/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const generationResponse = `{
	"question": "Which mechanism prevents two writers from corrupting shared state?",
	"options": ["Advisory locking", "Optimistic retries", "Eventual consistency", "Write-ahead logging"],
	"correct_answer": "Advisory locking",
	"explanation": "The lock serializes writers.",
	"detailed_explanations": {
		"Advisory locking": "Correct, writers must hold the lock.",
		"Optimistic retries": "Retries detect conflicts, they do not prevent them.",
		"Eventual consistency": "A read model property, not a write guard.",
		"Write-ahead logging": "Protects durability, not exclusivity."
	},
	"cited_chunks": [0]
}`

func evaluationResponse(score int) string {
	var b strings.Builder
	b.WriteString(`{"criteria_scores": {`)
	for i, c := range models.Criteria {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q: %d", c, score)
	}
	b.WriteString(`}, "rationales": {}}`)
	return b.String()
}

type harness struct {
	svc   *Service
	repos *repositories.Repositories
	llm   *llm.ScriptedCompleter
}

func newHarness(t *testing.T, responses []string) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.RAG.ChunkSize = 80
	cfg.RAG.ChunkOverlap = 10
	cfg.ApplyDefaults()

	repos := repositories.NewMemoryRepositories()
	store, err := vectorstore.New(&config.VectorDBConfig{InMemory: true})
	require.NoError(t, err)

	embedder := llm.StaticEmbedder{}
	completer := &llm.ScriptedCompleter{Responses: responses}

	ret := retriever.New(store, embedder)
	gen := generator.New(completer, ret, repos.Patterns, cfg)
	eval := evaluator.New(completer)
	learner := learning.NewLearner(repos.Patterns, &cfg.Learning)

	return &harness{
		svc:   New(repos, store, embedder, gen, eval, learner, cfg),
		repos: repos,
		llm:   completer,
	}
}

func sourceText() []byte {
	return []byte(strings.Repeat(
		"Advisory locks serialize writers so shared state is never corrupted. "+
			"Optimistic retries detect conflicts after the fact and roll back. ", 6))
}

func TestPipelineEndToEnd(t *testing.T) {
	h := newHarness(t, []string{generationResponse, evaluationResponse(90)})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)
	assert.True(t, doc.Processed)
	assert.True(t, doc.Enabled)

	count, err := h.repos.Chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 6)

	q, err := h.svc.GenerateQuestion(ctx, doc.ID, "how is shared state protected")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Version)
	assert.Len(t, q.Options, models.OptionCount)
	assert.Contains(t, q.Options, q.CorrectAnswer)
	require.NotEmpty(t, q.Sources)
	assert.Equal(t, "locking.txt", q.Sources[0].SourceName)

	eval, err := h.svc.EvaluateQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, eval.CompositeScore)
	assert.Equal(t, q.Version, eval.QuestionVersion)

	require.NoError(t, h.svc.RateQuestion(ctx, q.ID, 5, "ship it", true))

	reviews, err := h.svc.ListQuestions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.TierProduction, reviews[0].Tier)
	require.NotNil(t, reviews[0].Evaluation)
	require.NotNil(t, reviews[0].Rating)
	assert.Equal(t, 5, reviews[0].Rating.Stars)

	// The 5-star rating must have seeded the learning store.
	patterns, err := h.repos.Patterns.List(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "locking.txt", patterns[0].Domain)
	assert.Equal(t, 2.0, patterns[0].Weight)
}

func TestConcurrentIngestOfSameFilename(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	const n = 4
	docs := make([]*models.Document, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i], errs[i] = h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
		}(i)
	}
	wg.Wait()

	want, err := h.repos.Chunks.CountByDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	require.Greater(t, want, 0)

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "ingest %d", i)
		assert.True(t, docs[i].Processed, "ingest %d", i)
		count, err := h.repos.Chunks.CountByDocument(ctx, docs[i].ID)
		require.NoError(t, err)
		assert.Equal(t, want, count, "ingest %d", i)
	}
}

func TestIngestUnreadableDocumentStoresNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.IngestDocument(ctx, []byte("x"), "image.png")
	assert.ErrorIs(t, err, models.ErrUnreadableDocument)

	docs, err := h.svc.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGenerateAgainstDisabledDocument(t *testing.T) {
	h := newHarness(t, []string{generationResponse})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)
	require.NoError(t, h.svc.SetDocumentEnabled(ctx, doc.ID, false))

	_, err = h.svc.GenerateQuestion(ctx, doc.ID, "anything")
	assert.ErrorIs(t, err, models.ErrDocumentDisabled)
	assert.ErrorIs(t, err, models.ErrNoContent)
}

func TestGenerateDoubleParseFailurePersistsNothing(t *testing.T) {
	h := newHarness(t, []string{"garbage", "more garbage"})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)

	_, err = h.svc.GenerateQuestion(ctx, doc.ID, "how is shared state protected")
	assert.ErrorIs(t, err, models.ErrGenerationParse)
	assert.Equal(t, 2, h.llm.Calls())

	reviews, err := h.svc.ListQuestions(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestImproveInvalidatesOldEvaluation(t *testing.T) {
	h := newHarness(t, []string{generationResponse, evaluationResponse(85), generationResponse})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)

	q, err := h.svc.GenerateQuestion(ctx, doc.ID, "how is shared state protected")
	require.NoError(t, err)
	_, err = h.svc.EvaluateQuestion(ctx, q.ID)
	require.NoError(t, err)

	improved, err := h.svc.ImproveQuestion(ctx, q.ID, "tighten the stem")
	require.NoError(t, err)
	assert.Equal(t, 2, improved.Version)

	// The version-1 evaluation no longer describes the question.
	reviews, err := h.svc.ListQuestions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Nil(t, reviews[0].Evaluation)
	assert.Equal(t, models.TierPending, reviews[0].Tier)
}

func TestRateQuestionValidatesStars(t *testing.T) {
	h := newHarness(t, []string{generationResponse})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)
	q, err := h.svc.GenerateQuestion(ctx, doc.ID, "query")
	require.NoError(t, err)

	assert.Error(t, h.svc.RateQuestion(ctx, q.ID, 0, "", false))
	assert.Error(t, h.svc.RateQuestion(ctx, q.ID, 6, "", false))
}

func TestEvaluateUnratedQuestionTier(t *testing.T) {
	h := newHarness(t, []string{generationResponse, evaluationResponse(79)})
	ctx := context.Background()

	doc, err := h.svc.IngestDocument(ctx, sourceText(), "locking.txt")
	require.NoError(t, err)
	q, err := h.svc.GenerateQuestion(ctx, doc.ID, "query")
	require.NoError(t, err)
	_, err = h.svc.EvaluateQuestion(ctx, q.ID)
	require.NoError(t, err)

	reviews, err := h.svc.ListQuestions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.TierPending, reviews[0].Tier)
}
