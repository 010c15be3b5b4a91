package transition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

const (
	RatingStrong      = "strong"
	RatingModerate    = "moderate"
	RatingChallenging = "challenging"
)

// Rating maps an average topic score to its label.
func Rating(average float64) string {
	switch {
	case average >= 7.5:
		return RatingStrong
	case average >= 5:
		return RatingModerate
	default:
		return RatingChallenging
	}
}

// AssessmentScorer is a post-transfer rule for assessment crews. Tool calls
// accumulate per-topic scores under the user-scoped StateKey via Merge; once
// every topic is present this rule derives the rating, persists it under
// ResultKey, and releases the transfer. While topics are missing it returns
// false without writing, so repeated evaluation stays idempotent.
type AssessmentScorer struct {
	StateKey  string
	ResultKey string
	Topics    []string
}

func (s *AssessmentScorer) ShouldTransfer(ctx context.Context, view contractx.TurnView) (bool, error) {
	if view.Memory == nil {
		return false, errors.New("context store is required")
	}
	if strings.TrimSpace(s.StateKey) == "" || strings.TrimSpace(s.ResultKey) == "" {
		return false, errors.New("assessment state and result keys are required")
	}
	if len(s.Topics) == 0 {
		return false, errors.New("assessment topics are required")
	}

	scope := contractx.UserScope(view.UserID)
	raw, err := view.Memory.Read(ctx, scope, s.StateKey)
	if errors.Is(err, contractx.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	state, ok := raw.(map[string]any)
	if !ok {
		return false, fmt.Errorf("assessment state under key=%s is not an object", s.StateKey)
	}

	total := 0.0
	for _, topic := range s.Topics {
		value, present := state[topic]
		if !present {
			return false, nil
		}
		score, err := asScore(value)
		if err != nil {
			return false, fmt.Errorf("topic=%s: %w", topic, err)
		}
		total += score
	}

	average := total / float64(len(s.Topics))
	err = view.Memory.Write(ctx, scope, s.ResultKey, map[string]any{
		"average": average,
		"rating":  Rating(average),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func asScore(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("score has unsupported type %T", value)
	}
}
