package learning

import (
	"context"
	"strings"
	"testing"

	"examgen/internal/config"
	"examgen/internal/models"
	"examgen/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierForRatingWins(t *testing.T) {
	highEval := &models.Evaluation{CompositeScore: 95}
	cases := []struct {
		stars int
		want  models.Tier
	}{
		{5, models.TierProduction},
		{4, models.TierReview},
		{3, models.TierDevelopment},
		{2, models.TierNegative},
		{1, models.TierNegative},
	}
	for _, tc := range cases {
		got := TierFor(&models.Rating{Stars: tc.stars}, highEval)
		assert.Equal(t, tc.want, got, "stars=%d", tc.stars)
	}
}

func TestTierForUnrated(t *testing.T) {
	assert.Equal(t, models.TierPendingPromising, TierFor(nil, &models.Evaluation{CompositeScore: 80}))
	assert.Equal(t, models.TierPending, TierFor(nil, &models.Evaluation{CompositeScore: 79}))
	assert.Equal(t, models.TierPending, TierFor(nil, nil))
}

func TestTierMonotonicInStars(t *testing.T) {
	rank := map[models.Tier]int{
		models.TierNegative:    0,
		models.TierDevelopment: 1,
		models.TierReview:      2,
		models.TierProduction:  3,
	}
	prev := -1
	for stars := 1; stars <= 5; stars++ {
		cur := rank[TierFor(&models.Rating{Stars: stars}, nil)]
		assert.GreaterOrEqual(t, cur, prev, "stars=%d", stars)
		prev = cur
	}
}

func TestSignatureDeterministicAndOrdered(t *testing.T) {
	scores := map[string]int{}
	for i, c := range models.Criteria {
		scores[c] = 50 + i*8
	}
	first := Signature(scores)
	second := Signature(scores)
	assert.Equal(t, first, second)

	// Canonical criterion order, regardless of map iteration.
	parts := strings.Split(first, "|")
	require.Len(t, parts, len(models.Criteria))
	for i, c := range models.Criteria {
		assert.True(t, strings.HasPrefix(parts[i], c+":"), "part %d = %s", i, parts[i])
	}
}

func TestSignatureBands(t *testing.T) {
	scores := map[string]int{}
	for _, c := range models.Criteria {
		scores[c] = 80
	}
	scores[models.CriterionClarity] = 79
	scores[models.CriterionDifficulty] = 59

	sig := Signature(scores)
	assert.Contains(t, sig, models.CriterionClarity+":mid")
	assert.Contains(t, sig, models.CriterionDifficulty+":low")
	assert.Contains(t, sig, models.CriterionTechnicalAccuracy+":high")
}

func TestExtractFragmentDeterministic(t *testing.T) {
	q := &models.Question{
		Text:    "Which setting controls the retry budget?",
		Options: []string{"option aa", "option bb", "option cc", "option dd"},
		DetailedExplanations: map[string]string{
			"option aa": "a", "option bb": "b", "option cc": "c", "option dd": "d",
		},
	}
	first := ExtractFragment(q)
	assert.Equal(t, first, ExtractFragment(q))
	assert.Contains(t, first, "question word")
	assert.Contains(t, first, "similar in length")
	assert.Contains(t, first, "every option")
}

func TestExtractFragmentFallback(t *testing.T) {
	q := &models.Question{
		Text:    "Pick one.",
		Options: []string{"a", "a very much longer distractor than the rest", "b", "c"},
	}
	assert.Equal(t, "Test a single concept with one clearly best answer.", ExtractFragment(q))
}

func learnerFixture() (*Learner, repositories.PatternRepository, *config.LearningConfig) {
	cfg := &config.LearningConfig{
		DecayFactor: 0.5,
		MinWeight:   0.3,
		MinStars:    4,
		MaxPatterns: 5,
	}
	patterns := repositories.NewMemoryRepositories().Patterns
	return NewLearner(patterns, cfg), patterns, cfg
}

func ratedQuestion() (*models.Question, *models.Evaluation) {
	q := &models.Question{
		ID:           "q-1",
		Text:         "Which setting controls the retry budget?",
		Options:      []string{"option aa", "option bb", "option cc", "option dd"},
		DocumentUsed: "infra-notes.txt",
		Version:      1,
	}
	scores := map[string]int{}
	for _, c := range models.Criteria {
		scores[c] = 85
	}
	eval := &models.Evaluation{QuestionID: q.ID, QuestionVersion: 1, CriterionScores: scores, CompositeScore: 85}
	return q, eval
}

func TestRecordRatingExtractsPattern(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	q, eval := ratedQuestion()

	err := learner.RecordRating(context.Background(), q, eval, &models.Rating{QuestionID: q.ID, QuestionVersion: 1, Stars: 5})
	require.NoError(t, err)

	stored, err := patterns.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, Signature(eval.CriterionScores), stored[0].Signature)
	assert.Equal(t, "infra-notes.txt", stored[0].Domain)
	assert.Equal(t, 2.0, stored[0].Weight)
	assert.Equal(t, []string{"q-1"}, stored[0].DerivedFrom)
}

func TestRecordRatingBelowThresholdOnlyDecays(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	require.NoError(t, patterns.Upsert(context.Background(), &models.Pattern{
		Signature: "sig", Domain: "other.txt", Weight: 1.0,
	}))

	q, eval := ratedQuestion()
	err := learner.RecordRating(context.Background(), q, eval, &models.Rating{Stars: 3})
	require.NoError(t, err)

	stored, err := patterns.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 0.5, stored[0].Weight)
}

func TestRecordRatingReinforcesWithoutDecayingTarget(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	q, eval := ratedQuestion()
	sig := Signature(eval.CriterionScores)
	require.NoError(t, patterns.Upsert(context.Background(), &models.Pattern{
		Signature: sig, Domain: q.DocumentUsed, Weight: 1.0, DerivedFrom: []string{"q-0"},
	}))

	err := learner.RecordRating(context.Background(), q, eval, &models.Rating{Stars: 4})
	require.NoError(t, err)

	stored, err := patterns.Get(context.Background(), sig, q.DocumentUsed)
	require.NoError(t, err)
	require.NotNil(t, stored)
	// 1.0 + (4-3), untouched by this cycle's decay.
	assert.Equal(t, 2.0, stored.Weight)
	assert.Equal(t, []string{"q-0", "q-1"}, stored.DerivedFrom)
}

func TestRecordRatingPrunesBelowFloor(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	require.NoError(t, patterns.Upsert(context.Background(), &models.Pattern{
		Signature: "sig", Domain: "other.txt", Weight: 0.4,
	}))

	q, eval := ratedQuestion()
	// 0.4 * 0.5 = 0.2 < 0.3 floor.
	err := learner.RecordRating(context.Background(), q, eval, &models.Rating{Stars: 2})
	require.NoError(t, err)

	stored, err := patterns.Get(context.Background(), "sig", "other.txt")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRecordRatingSkipsExtractionOnVersionMismatch(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	q, eval := ratedQuestion()
	q.Version = 2 // evaluation still targets version 1

	err := learner.RecordRating(context.Background(), q, eval, &models.Rating{Stars: 5})
	require.NoError(t, err)

	stored, err := patterns.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRecordRatingSkipsExtractionWithoutEvaluation(t *testing.T) {
	learner, patterns, _ := learnerFixture()
	q, _ := ratedQuestion()

	err := learner.RecordRating(context.Background(), q, nil, &models.Rating{Stars: 5})
	require.NoError(t, err)

	stored, err := patterns.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}
