package models

import "time"

// Document is an uploaded source file. Processed flips once chunking
// completes; Enabled is the admin toggle gating question generation.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	RawRef    string    `json:"raw_ref"`
	Processed bool      `json:"processed"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is a retrievable passage with page attribution. Immutable once
// created; Seq is insertion order and must be preserved for citations.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	Page       int    `json:"page"`
}

// SourceRef is a single citation carried on a generated question.
type SourceRef struct {
	SourceName string `json:"source"`
	Page       int    `json:"page"`
}

// Question is a generated multiple-choice question. Options always has
// exactly OptionCount distinct entries and CorrectAnswer is one of them.
// Version starts at 1 and is bumped by every improve call.
type Question struct {
	ID                   string            `json:"id"`
	DocumentID           string            `json:"document_id"`
	Query                string            `json:"query"`
	Text                 string            `json:"question"`
	Options              []string          `json:"options"`
	CorrectAnswer        string            `json:"correct_answer"`
	Explanation          string            `json:"explanation"`
	DetailedExplanations map[string]string `json:"detailed_explanations"`
	Sources              []SourceRef       `json:"sources"`
	DocumentUsed         string            `json:"document_used"`
	Version              int               `json:"version"`
	CreatedAt            time.Time         `json:"created_at"`
}

// Evaluation is one scoring pass over a question version. Append-only;
// an evaluation describes the question only while the versions match.
type Evaluation struct {
	ID              string            `json:"id"`
	QuestionID      string            `json:"question_id"`
	QuestionVersion int               `json:"question_version"`
	CriterionScores map[string]int    `json:"criterion_scores"`
	Rationales      map[string]string `json:"rationales"`
	CompositeScore  int               `json:"composite_score"`
	EvaluatedAt     time.Time         `json:"evaluated_at"`
}

// Rating is an admin judgement of a question version. Append-only; the
// most recent rating determines the current tier.
type Rating struct {
	ID              string    `json:"id"`
	QuestionID      string    `json:"question_id"`
	QuestionVersion int       `json:"question_version"`
	Stars           int       `json:"stars"`
	AdminComments   string    `json:"admin_comments"`
	Approved        bool      `json:"approved"`
	RatedAt         time.Time `json:"rated_at"`
}

// Pattern is a reusable prompt fragment distilled from highly rated
// questions, keyed by the banded criterion profile of the evaluation
// that accompanied the rating. Weight grows on reinforcement and decays
// once per rating cycle.
type Pattern struct {
	Signature   string    `json:"signature"`
	Domain      string    `json:"domain"`
	Fragment    string    `json:"fragment"`
	DerivedFrom []string  `json:"derived_from"`
	Weight      float64   `json:"weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tier is the derived pool a question belongs to. Never stored; always
// recomputed from the latest rating and evaluation.
type Tier string

const (
	TierProduction       Tier = "production"
	TierReview           Tier = "review"
	TierDevelopment      Tier = "development"
	TierNegative         Tier = "negative"
	TierPendingPromising Tier = "pending_promising"
	TierPending          Tier = "pending"
)

// QuestionReview bundles a question with its latest evaluation, latest
// rating and derived tier for the admin review feed.
type QuestionReview struct {
	Question   Question    `json:"question"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Rating     *Rating     `json:"rating,omitempty"`
	Tier       Tier        `json:"tier"`
}
