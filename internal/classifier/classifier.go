// Package classifier decides the moderation outcome for a piece of
// content. It combines a local deny-list rule with an external scoring
// service behind a fixed threshold policy, and never touches the job
// store or the queue.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"moderation-pipeline/internal/entity"
)

const (
	rejectThreshold = 0.8
	reviewThreshold = 0.5

	ReasonBorderline         = "borderline content requiring human evaluation"
	ReasonScoringUnavailable = "scoring unavailable, requires human review"
)

// Scorer produces per-attribute scores in [0,1] for the given content.
type Scorer interface {
	Score(ctx context.Context, content string) (map[string]float64, error)
}

type Classifier struct {
	denyList []string
	scorer   Scorer
}

// New builds a classifier with the given blocked terms. Terms are
// trimmed and lower-cased; empty entries are dropped.
func New(denyList []string, scorer Scorer) *Classifier {
	normalized := make([]string, 0, len(denyList))
	for _, term := range denyList {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		normalized = append(normalized, strings.ToLower(term))
	}
	return &Classifier{denyList: normalized, scorer: scorer}
}

// Classify evaluates content against the deny list first, only then
// against the scoring service. A deny-list hit short-circuits the
// network call entirely; a scoring failure degrades to needs_review
// rather than blocking the pipeline or silently approving.
func (c *Classifier) Classify(ctx context.Context, content string) entity.Decision {
	lower := strings.ToLower(content)
	for _, term := range c.denyList {
		if strings.Contains(lower, term) {
			return entity.Decision{
				Status: entity.StatusRejected,
				Detail: "contains blocked term: " + term,
			}
		}
	}

	scores, err := c.scorer.Score(ctx, content)
	if err != nil {
		reason := ReasonScoringUnavailable
		return entity.Decision{
			Status:       entity.StatusNeedsReview,
			Detail:       "scoring service error: " + err.Error(),
			ReviewReason: &reason,
		}
	}

	maxAttr, maxScore := "", 0.0
	for attr, v := range scores {
		if maxAttr == "" || v > maxScore {
			maxAttr, maxScore = attr, v
		}
	}
	score := maxScore

	switch {
	case maxScore > rejectThreshold:
		return entity.Decision{
			Status: entity.StatusRejected,
			Detail: fmt.Sprintf("%s score %.4f exceeds reject threshold", maxAttr, maxScore),
			Score:  &score,
		}
	case maxScore >= reviewThreshold:
		reason := ReasonBorderline
		return entity.Decision{
			Status:       entity.StatusNeedsReview,
			Detail:       fmt.Sprintf("%s score %.4f in review band", maxAttr, maxScore),
			Score:        &score,
			ReviewReason: &reason,
		}
	default:
		return entity.Decision{
			Status: entity.StatusApproved,
			Detail: "passed automated moderation",
			Score:  &score,
		}
	}
}
