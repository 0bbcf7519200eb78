package generator

import (
	"context"
	"fmt"
	"testing"

	"examgen/internal/config"
	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/repositories"
	"examgen/internal/retriever"
	"examgen/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResponse = `{
	"question": "Which component records the resources under management?",
	"options": ["The state file", "The plan output", "The provider cache", "The module registry"],
	"correct_answer": "The state file",
	"explanation": "State maps real resources to configuration.",
	"detailed_explanations": {
		"The state file": "Correct, state is the source of truth.",
		"The plan output": "A plan is a preview, not a record.",
		"The provider cache": "Caches binaries, not resources.",
		"The module registry": "Distributes modules, not state."
	},
	"cited_chunks": [0, 1]
}`

type fixture struct {
	gen      *Generator
	doc      *models.Document
	patterns repositories.PatternRepository
	llm      *llm.ScriptedCompleter
}

func newFixture(t *testing.T, responses []string) *fixture {
	t.Helper()

	store, err := vectorstore.New(&config.VectorDBConfig{InMemory: true})
	require.NoError(t, err)

	doc := &models.Document{ID: "doc-1", Filename: "infra-notes.txt", Processed: true, Enabled: true}
	embedder := llm.StaticEmbedder{}
	texts := []string{
		"terraform state tracks every managed resource",
		"plans preview changes before they are applied",
		"providers talk to the upstream APIs",
	}
	chunks := make([]models.Chunk, len(texts))
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{DocumentID: doc.ID, Seq: i, Text: text, Page: i + 1}
		emb, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		embeddings[i] = emb
	}
	require.NoError(t, store.AddChunks(context.Background(), doc.ID, chunks, embeddings))

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	completer := &llm.ScriptedCompleter{Responses: responses}
	patterns := repositories.NewMemoryRepositories().Patterns
	gen := New(completer, retriever.New(store, embedder), patterns, cfg)
	return &fixture{gen: gen, doc: doc, patterns: patterns, llm: completer}
}

func TestGenerateValidResponse(t *testing.T) {
	f := newFixture(t, []string{validResponse})

	q, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	require.NoError(t, err)

	assert.NotEmpty(t, q.ID)
	assert.Equal(t, f.doc.ID, q.DocumentID)
	assert.Equal(t, "how does state work", q.Query)
	assert.Equal(t, 1, q.Version)
	assert.Len(t, q.Options, models.OptionCount)
	assert.Contains(t, q.Options, q.CorrectAnswer)
	assert.Equal(t, f.doc.Filename, q.DocumentUsed)
	assert.Equal(t, 1, f.llm.Calls())
}

func TestGenerateExtractsWrappedJSON(t *testing.T) {
	f := newFixture(t, []string{"Here is the question:\n```json\n" + validResponse + "\n```"})

	q, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	require.NoError(t, err)
	assert.Equal(t, "The state file", q.CorrectAnswer)
}

func TestGenerateRepairsOnce(t *testing.T) {
	f := newFixture(t, []string{"not json at all", validResponse})

	q, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	require.NoError(t, err)
	assert.Equal(t, 2, f.llm.Calls())

	// The second prompt must carry the corrective instruction.
	require.Len(t, f.llm.Prompts, 2)
	assert.Contains(t, f.llm.Prompts[1], "could not be parsed")
	assert.NotNil(t, q)
}

func TestGenerateFailsAfterSecondMalformedResponse(t *testing.T) {
	bad := `{"question": "q?", "options": ["a", "a", "b", "c"], "correct_answer": "a"}`
	f := newFixture(t, []string{bad, bad})

	_, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	assert.ErrorIs(t, err, models.ErrGenerationParse)
	assert.Equal(t, 2, f.llm.Calls())
}

func TestGenerateOptionInvariantsAreParseFailures(t *testing.T) {
	cases := map[string]string{
		"three options":  `{"question": "q?", "options": ["a", "b", "c"], "correct_answer": "a"}`,
		"wrong answer":   `{"question": "q?", "options": ["a", "b", "c", "d"], "correct_answer": "e"}`,
		"empty question": `{"question": " ", "options": ["a", "b", "c", "d"], "correct_answer": "a"}`,
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, []string{bad, bad})
			_, err := f.gen.Generate(context.Background(), f.doc, "query")
			assert.ErrorIs(t, err, models.ErrGenerationParse)
		})
	}
}

func TestGenerateUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.Err = fmt.Errorf("connection refused")

	_, err := f.gen.Generate(context.Background(), f.doc, "query")
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
}

func TestGenerateCitationsMapToRetrievedChunks(t *testing.T) {
	resp := `{
		"question": "Which statement is true?",
		"options": ["w", "x", "y", "z"],
		"correct_answer": "w",
		"explanation": "e",
		"detailed_explanations": {},
		"cited_chunks": [2, 99, 2]
	}`
	f := newFixture(t, []string{resp})

	q, err := f.gen.Generate(context.Background(), f.doc, "providers")
	require.NoError(t, err)

	// Chunk 99 was never retrieved; chunk 2 dedupes to one citation.
	require.Len(t, q.Sources, 1)
	assert.Equal(t, f.doc.Filename, q.Sources[0].SourceName)
	assert.Equal(t, 3, q.Sources[0].Page)
}

func TestGenerateFallsBackToTopChunkWhenNothingCited(t *testing.T) {
	resp := `{
		"question": "Which statement is true?",
		"options": ["w", "x", "y", "z"],
		"correct_answer": "w",
		"explanation": "e",
		"detailed_explanations": {},
		"cited_chunks": []
	}`
	f := newFixture(t, []string{resp})

	q, err := f.gen.Generate(context.Background(), f.doc, "state")
	require.NoError(t, err)
	require.Len(t, q.Sources, 1)
}

func TestImproveBumpsVersionAndKeepsIdentity(t *testing.T) {
	f := newFixture(t, []string{validResponse, validResponse})

	q, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	require.NoError(t, err)

	improved, err := f.gen.Improve(context.Background(), f.doc, q, "make the distractors harder")
	require.NoError(t, err)

	assert.Equal(t, q.ID, improved.ID)
	assert.Equal(t, q.Query, improved.Query)
	assert.Equal(t, q.Version+1, improved.Version)

	// Feedback must reach the model.
	require.Len(t, f.llm.Prompts, 2)
	assert.Contains(t, f.llm.Prompts[1], "make the distractors harder")
}

func TestGenerateIncludesPatternGuidance(t *testing.T) {
	f := newFixture(t, []string{validResponse})
	require.NoError(t, f.patterns.Upsert(context.Background(), &models.Pattern{
		Signature: "sig",
		Domain:    f.doc.Filename,
		Fragment:  "Lead with a direct question word.",
		Weight:    2,
	}))

	_, err := f.gen.Generate(context.Background(), f.doc, "how does state work")
	require.NoError(t, err)

	require.Len(t, f.llm.Prompts, 1)
	assert.Contains(t, f.llm.Prompts[0], "Lead with a direct question word.")
}
