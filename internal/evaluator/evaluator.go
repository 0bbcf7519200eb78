package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"examgen/internal/helper"
	"examgen/internal/llm"
	"examgen/internal/models"

	"github.com/rs/zerolog/log"
)

// Evaluator scores a question against the seven fixed criteria. The
// composite is always computed here from the individual scores; any
// total the model volunteers is ignored.
type Evaluator struct {
	completer llm.Completer
}

func New(completer llm.Completer) *Evaluator {
	return &Evaluator{completer: completer}
}

type evaluationPayload struct {
	CriteriaScores map[string]int    `json:"criteria_scores"`
	Rationales     map[string]string `json:"rationales"`
}

// Evaluate scores the question as it currently stands. When an admin
// rating for this version exists it is surfaced to the model as review
// context. The returned evaluation is stamped with the question's
// current version.
func (e *Evaluator) Evaluate(ctx context.Context, q *models.Question, rating *models.Rating) (*models.Evaluation, error) {
	prompt := fmt.Sprintf(models.EvaluationPromptTemplate, questionBlock(q), adminBlock(rating))

	raw, err := e.completer.Complete(ctx, models.EvaluationSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEvaluationUnavailable, err)
	}

	payload, parseErr := parseEvaluation(raw)
	if parseErr != nil {
		log.Warn().Err(parseErr).Str("question_id", q.ID).Msg("evaluation response malformed, retrying once")
		repair := prompt + fmt.Sprintf(models.EvaluationRepairInstruction, parseErr.Error())
		raw, err = e.completer.Complete(ctx, models.EvaluationSystemPrompt, repair)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrEvaluationUnavailable, err)
		}
		payload, parseErr = parseEvaluation(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrEvaluationParse, parseErr)
		}
	}

	return &models.Evaluation{
		ID:              helper.NewID(),
		QuestionID:      q.ID,
		QuestionVersion: q.Version,
		CriterionScores: payload.CriteriaScores,
		Rationales:      payload.Rationales,
		CompositeScore:  Composite(payload.CriteriaScores),
		EvaluatedAt:     time.Now().UTC(),
	}, nil
}

// Composite is the rounded mean over the seven criteria.
func Composite(scores map[string]int) int {
	sum := 0
	for _, c := range models.Criteria {
		sum += scores[c]
	}
	return int(math.Round(float64(sum) / float64(len(models.Criteria))))
}

func questionBlock(q *models.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nOptions:\n", q.Text)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "%c. %s\n", 'A'+i, opt)
	}
	fmt.Fprintf(&b, "\nCorrect answer: %s\n", q.CorrectAnswer)
	if q.Explanation != "" {
		fmt.Fprintf(&b, "\nExplanation: %s\n", q.Explanation)
	}
	if len(q.DetailedExplanations) > 0 {
		b.WriteString("\nPer-option explanations:\n")
		for _, opt := range q.Options {
			if exp, ok := q.DetailedExplanations[opt]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", opt, exp)
			}
		}
	}
	return b.String()
}

// adminBlock renders the reviewer's judgement of this version, when one
// exists, so the model can weigh expert feedback in its scoring.
func adminBlock(rating *models.Rating) string {
	if rating == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\nAn expert reviewer rated this question %d out of 5 stars.\n", rating.Stars)
	if rating.AdminComments != "" {
		fmt.Fprintf(&b, "Reviewer comments: %s\n", rating.AdminComments)
	}
	return b.String()
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseEvaluation decodes and validates a model response. Missing
// criteria and out-of-range scores are parse failures, not clamped.
func parseEvaluation(raw string) (*evaluationPayload, error) {
	var payload evaluationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		match := jsonObjectRe.FindString(raw)
		if match == "" {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(match), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
	}
	for _, c := range models.Criteria {
		score, ok := payload.CriteriaScores[c]
		if !ok {
			return nil, fmt.Errorf("missing score for criterion %q", c)
		}
		if score < 0 || score > 100 {
			return nil, fmt.Errorf("score %d for criterion %q out of range", score, c)
		}
	}
	return &payload, nil
}
