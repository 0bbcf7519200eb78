package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"examgen/internal/config"
	"examgen/internal/models"
	"examgen/internal/repositories"

	"github.com/rs/zerolog/log"
)

// TierFor derives a question's pool from its latest rating and its
// version-matched evaluation. An admin rating always wins; the
// evaluation only places unrated questions.
func TierFor(rating *models.Rating, eval *models.Evaluation) models.Tier {
	if rating != nil {
		switch {
		case rating.Stars >= 5:
			return models.TierProduction
		case rating.Stars == 4:
			return models.TierReview
		case rating.Stars == 3:
			return models.TierDevelopment
		default:
			return models.TierNegative
		}
	}
	if eval != nil && eval.CompositeScore >= 80 {
		return models.TierPendingPromising
	}
	return models.TierPending
}

// Signature bands each criterion score and walks the criteria in
// canonical order, so equal profiles always map to the same key.
func Signature(scores map[string]int) string {
	parts := make([]string, 0, len(models.Criteria))
	for _, c := range models.Criteria {
		parts = append(parts, c+":"+band(scores[c]))
	}
	return strings.Join(parts, "|")
}

func band(score int) string {
	switch {
	case score >= 80:
		return "high"
	case score >= 60:
		return "mid"
	default:
		return "low"
	}
}

// ExtractFragment distills a well-rated question into reusable prompt
// guidance. Purely structural: the question's subject matter never
// leaks into the fragment, only its shape.
func ExtractFragment(q *models.Question) string {
	var traits []string

	stem := strings.TrimSpace(q.Text)
	if len(stem) > 160 {
		traits = append(traits, "use a scenario-style stem that sets context before asking")
	}
	if opensWithQuestionWord(stem) {
		traits = append(traits, "lead with a direct question word")
	}
	if balancedOptionLengths(q.Options) {
		traits = append(traits, "keep all four options similar in length so the correct answer is not telegraphed")
	}
	if len(q.DetailedExplanations) >= models.OptionCount {
		traits = append(traits, "explain every option, including why each distractor is wrong")
	}

	if len(traits) == 0 {
		return "Test a single concept with one clearly best answer."
	}
	joined := strings.Join(traits, "; ")
	return strings.ToUpper(joined[:1]) + joined[1:] + "."
}

var questionWords = []string{"what", "which", "when", "why", "how", "who", "where"}

func opensWithQuestionWord(stem string) bool {
	first := strings.ToLower(stem)
	if i := strings.IndexAny(first, " \t\n"); i > 0 {
		first = first[:i]
	}
	for _, w := range questionWords {
		if first == w {
			return true
		}
	}
	return false
}

// balancedOptionLengths reports whether no option strays more than 30%
// from the longest one. Wildly uneven lengths usually telegraph the
// answer.
func balancedOptionLengths(options []string) bool {
	if len(options) == 0 {
		return false
	}
	shortest, longest := len(options[0]), len(options[0])
	for _, opt := range options[1:] {
		if len(opt) < shortest {
			shortest = len(opt)
		}
		if len(opt) > longest {
			longest = len(opt)
		}
	}
	return longest > 0 && float64(longest-shortest)/float64(longest) <= 0.3
}

// Learner maintains the pattern store. Every rating cycle decays all
// weights, then a sufficiently starred rating reinforces (or creates)
// the pattern for the question's criterion profile.
type Learner struct {
	// mu serializes rating cycles: decay touches every pattern, so
	// concurrent cycles would compound unpredictably.
	mu       sync.Mutex
	patterns repositories.PatternRepository
	cfg      *config.LearningConfig
}

func NewLearner(patterns repositories.PatternRepository, cfg *config.LearningConfig) *Learner {
	return &Learner{patterns: patterns, cfg: cfg}
}

// RecordRating runs one learning cycle for an admin rating. The
// evaluation must be version-matched to the question or nil; without
// one there is no criterion profile and nothing new is extracted, but
// decay still runs.
func (l *Learner) RecordRating(ctx context.Context, q *models.Question, eval *models.Evaluation, rating *models.Rating) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	extract := rating.Stars >= l.cfg.MinStars
	if extract && (eval == nil || eval.QuestionVersion != q.Version) {
		log.Debug().Str("question_id", q.ID).Msg("no version-matched evaluation, skipping pattern extraction")
		extract = false
	}

	var signature, domain string
	if extract {
		signature = Signature(eval.CriterionScores)
		domain = q.DocumentUsed
	}

	// The reinforced pattern is exempt from this cycle's decay.
	if err := l.decayAll(ctx, signature, domain, extract); err != nil {
		return err
	}
	if !extract {
		return nil
	}

	delta := float64(rating.Stars - 3)

	existing, err := l.patterns.Get(ctx, signature, domain)
	if err != nil {
		return fmt.Errorf("loading pattern: %w", err)
	}

	var p models.Pattern
	if existing != nil {
		p = *existing
		p.Weight += delta
		if !containsString(p.DerivedFrom, q.ID) {
			p.DerivedFrom = append(p.DerivedFrom, q.ID)
		}
	} else {
		p = models.Pattern{
			Signature:   signature,
			Domain:      domain,
			Fragment:    ExtractFragment(q),
			DerivedFrom: []string{q.ID},
			Weight:      delta,
		}
	}
	p.UpdatedAt = time.Now().UTC()

	if err := l.patterns.Upsert(ctx, &p); err != nil {
		return fmt.Errorf("storing pattern: %w", err)
	}
	log.Info().Str("signature", signature).Str("domain", domain).Float64("weight", p.Weight).Msg("pattern reinforced")
	return nil
}

// decayAll multiplies every weight by the decay factor and prunes
// patterns that fall below the floor. The pattern being reinforced this
// cycle, if any, is skipped.
func (l *Learner) decayAll(ctx context.Context, skipSignature, skipDomain string, skip bool) error {
	patterns, err := l.patterns.List(ctx)
	if err != nil {
		return fmt.Errorf("listing patterns: %w", err)
	}
	for _, p := range patterns {
		if skip && p.Signature == skipSignature && p.Domain == skipDomain {
			continue
		}
		p.Weight *= l.cfg.DecayFactor
		if p.Weight < l.cfg.MinWeight {
			if err := l.patterns.Delete(ctx, p.Signature, p.Domain); err != nil {
				return fmt.Errorf("pruning pattern: %w", err)
			}
			continue
		}
		if err := l.patterns.Upsert(ctx, p); err != nil {
			return fmt.Errorf("decaying pattern: %w", err)
		}
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
