package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"examgen/internal/config"
	"examgen/internal/helper"
	"examgen/internal/llm"
	"examgen/internal/models"
	"examgen/internal/repositories"
	"examgen/internal/retriever"

	"github.com/rs/zerolog/log"
)

// Generator turns a task query plus retrieved passages into a validated
// multiple-choice question. It never persists anything; callers own
// storage.
type Generator struct {
	completer llm.Completer
	retriever *retriever.Retriever
	patterns  repositories.PatternRepository
	cfg       *config.Config
}

func New(completer llm.Completer, ret *retriever.Retriever, patterns repositories.PatternRepository, cfg *config.Config) *Generator {
	return &Generator{completer: completer, retriever: ret, patterns: patterns, cfg: cfg}
}

// generationPayload is the JSON shape the model is asked to return.
type generationPayload struct {
	Question             string            `json:"question"`
	Options              []string          `json:"options"`
	CorrectAnswer        string            `json:"correct_answer"`
	Explanation          string            `json:"explanation"`
	DetailedExplanations map[string]string `json:"detailed_explanations"`
	CitedChunks          []int             `json:"cited_chunks"`
}

// Generate creates a new version-1 question for the document and query.
func (g *Generator) Generate(ctx context.Context, doc *models.Document, query string) (*models.Question, error) {
	payload, chunks, err := g.generate(ctx, doc, query, "")
	if err != nil {
		return nil, err
	}

	q := &models.Question{
		ID:                   helper.NewID(),
		DocumentID:           doc.ID,
		Query:                query,
		Text:                 payload.Question,
		Options:              payload.Options,
		CorrectAnswer:        payload.CorrectAnswer,
		Explanation:          payload.Explanation,
		DetailedExplanations: payload.DetailedExplanations,
		Sources:              citedSources(doc.Filename, chunks, payload.CitedChunks),
		DocumentUsed:         doc.Filename,
		Version:              1,
		CreatedAt:            time.Now().UTC(),
	}
	return q, nil
}

// Improve regenerates a question against the same document and stored
// query, steering the model with the admin feedback. The returned
// question keeps the original identity and bumps the version by one.
func (g *Generator) Improve(ctx context.Context, doc *models.Document, prev *models.Question, feedback string) (*models.Question, error) {
	payload, chunks, err := g.generate(ctx, doc, prev.Query, feedback)
	if err != nil {
		return nil, err
	}

	q := &models.Question{
		ID:                   prev.ID,
		DocumentID:           prev.DocumentID,
		Query:                prev.Query,
		Text:                 payload.Question,
		Options:              payload.Options,
		CorrectAnswer:        payload.CorrectAnswer,
		Explanation:          payload.Explanation,
		DetailedExplanations: payload.DetailedExplanations,
		Sources:              citedSources(doc.Filename, chunks, payload.CitedChunks),
		DocumentUsed:         doc.Filename,
		Version:              prev.Version + 1,
		CreatedAt:            prev.CreatedAt,
	}
	return q, nil
}

func (g *Generator) generate(ctx context.Context, doc *models.Document, query, feedback string) (*generationPayload, []retriever.ScoredChunk, error) {
	chunks, err := g.retriever.Retrieve(ctx, doc.ID, query, g.cfg.RAG.TopK)
	if err != nil {
		return nil, nil, err
	}

	guidance, err := g.patternGuidance(ctx, doc.Filename)
	if err != nil {
		return nil, nil, err
	}
	if feedback != "" {
		guidance += fmt.Sprintf(models.ImprovementInstructionTemplate, feedback)
	}

	prompt := fmt.Sprintf(models.GenerationPromptTemplate, query, taggedPassages(doc.Filename, chunks), guidance)

	raw, err := g.completer.Complete(ctx, models.GenerationSystemPrompt, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}

	payload, parseErr := parseGeneration(raw)
	if parseErr == nil {
		return payload, chunks, nil
	}

	// One repair attempt with the parse error echoed back; a second
	// malformed response fails the call.
	log.Warn().Err(parseErr).Str("question_query", query).Msg("generation response malformed, retrying once")
	repair := prompt + fmt.Sprintf(models.GenerationRepairInstruction, parseErr.Error())
	raw, err = g.completer.Complete(ctx, models.GenerationSystemPrompt, repair)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	payload, parseErr = parseGeneration(raw)
	if parseErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrGenerationParse, parseErr)
	}
	return payload, chunks, nil
}

// patternGuidance renders the strongest learned fragments for the
// document's domain into a prompt block, or "" when none are stored.
func (g *Generator) patternGuidance(ctx context.Context, domain string) (string, error) {
	patterns, err := g.patterns.TopByDomain(ctx, domain, g.cfg.Learning.MaxPatterns)
	if err != nil {
		return "", fmt.Errorf("loading patterns: %w", err)
	}
	if len(patterns) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(models.PatternGuidanceHeader)
	for _, p := range patterns {
		fmt.Fprintf(&b, "- %s\n", p.Fragment)
	}
	return b.String(), nil
}

// taggedPassages renders retrieved chunks so the model can cite them by
// chunk number.
func taggedPassages(sourceName string, chunks []retriever.ScoredChunk) string {
	var b strings.Builder
	for _, sc := range chunks {
		fmt.Fprintf(&b, "[source: %s, page %d, chunk %d]\n%s\n\n", sourceName, sc.Chunk.Page, sc.Chunk.Seq, sc.Chunk.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// citedSources maps the model's cited chunk numbers back to source
// references. Citations outside the retrieved set are dropped; if
// nothing valid remains the most relevant chunk is cited so a question
// is never stored without provenance.
func citedSources(sourceName string, chunks []retriever.ScoredChunk, cited []int) []models.SourceRef {
	bySeq := make(map[int]int, len(chunks))
	for _, sc := range chunks {
		bySeq[sc.Chunk.Seq] = sc.Chunk.Page
	}

	var out []models.SourceRef
	seen := map[models.SourceRef]bool{}
	for _, seq := range cited {
		page, ok := bySeq[seq]
		if !ok {
			continue
		}
		ref := models.SourceRef{SourceName: sourceName, Page: page}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	if len(out) == 0 && len(chunks) > 0 {
		out = append(out, models.SourceRef{SourceName: sourceName, Page: chunks[0].Chunk.Page})
	}
	return out
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseGeneration decodes and validates a model response. Strict decode
// first, then a best-effort extraction of the outermost JSON object for
// models that wrap the payload in prose or code fences.
func parseGeneration(raw string) (*generationPayload, error) {
	var payload generationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		match := jsonObjectRe.FindString(raw)
		if match == "" {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(match), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
	}
	if err := validateGeneration(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func validateGeneration(p *generationPayload) error {
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("missing question text")
	}
	if len(p.Options) != models.OptionCount {
		return fmt.Errorf("expected %d options, got %d", models.OptionCount, len(p.Options))
	}
	seen := make(map[string]bool, models.OptionCount)
	for _, opt := range p.Options {
		key := strings.TrimSpace(opt)
		if key == "" {
			return fmt.Errorf("empty option")
		}
		if seen[key] {
			return fmt.Errorf("duplicate option %q", opt)
		}
		seen[key] = true
	}
	if !seen[strings.TrimSpace(p.CorrectAnswer)] {
		return fmt.Errorf("correct_answer %q is not one of the options", p.CorrectAnswer)
	}
	return nil
}
