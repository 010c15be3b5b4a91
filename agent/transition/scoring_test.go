package transition

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	memoryx "github.com/tanpawarit/crewflow/agent/memory"
)

func TestRatingBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		average float64
		want    string
	}{
		{10, RatingStrong},
		{7.5, RatingStrong},
		{7.49, RatingModerate},
		{5, RatingModerate},
		{4.99, RatingChallenging},
		{0, RatingChallenging},
	}
	for _, tc := range cases {
		if got := Rating(tc.average); got != tc.want {
			t.Fatalf("Rating(%v) = %q, want %q", tc.average, got, tc.want)
		}
	}
}

func scorerView(store contractx.ContextStore) contractx.TurnView {
	return contractx.TurnView{
		CrewName:       "assessment",
		ConversationID: "conv-1",
		UserID:         "user-1",
		Memory:         store,
	}
}

func testScorer() *AssessmentScorer {
	return &AssessmentScorer{
		StateKey:  "assessment_state",
		ResultKey: "assessment_result",
		Topics:    []string{"focus", "resilience", "collaboration"},
	}
}

func TestAssessmentScorerWaitsForAllTopics(t *testing.T) {
	t.Parallel()

	store := memoryx.NewInMemoryStore()
	view := scorerView(store)
	scope := contractx.UserScope(view.UserID)
	scorer := testScorer()

	// No state yet.
	fire, err := scorer.ShouldTransfer(context.Background(), view)
	if err != nil {
		t.Fatalf("ShouldTransfer() error = %v", err)
	}
	if fire {
		t.Fatal("fired with no recorded topics")
	}

	// Two of three topics recorded.
	err = store.Merge(context.Background(), scope, scorer.StateKey, map[string]any{
		"focus":      8.0,
		"resilience": 6.0,
	})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	fire, err = scorer.ShouldTransfer(context.Background(), view)
	if err != nil {
		t.Fatalf("ShouldTransfer() error = %v", err)
	}
	if fire {
		t.Fatal("fired with a topic missing")
	}
	if _, err := store.Read(context.Background(), scope, scorer.ResultKey); !errors.Is(err, contractx.ErrKeyNotFound) {
		t.Fatalf("result written before all topics present, Read() error = %v", err)
	}
}

func TestAssessmentScorerFiresAndPersistsResult(t *testing.T) {
	t.Parallel()

	store := memoryx.NewInMemoryStore()
	view := scorerView(store)
	scope := contractx.UserScope(view.UserID)
	scorer := testScorer()

	// Three separate merges, as three tool calls would produce.
	for topic, score := range map[string]any{"focus": 9.0, "resilience": 8.0, "collaboration": 7.0} {
		if err := store.Merge(context.Background(), scope, scorer.StateKey, map[string]any{topic: score}); err != nil {
			t.Fatalf("Merge(%s) error = %v", topic, err)
		}
	}

	fire, err := scorer.ShouldTransfer(context.Background(), view)
	if err != nil {
		t.Fatalf("ShouldTransfer() error = %v", err)
	}
	if !fire {
		t.Fatal("expected the scorer to fire with all topics present")
	}

	raw, err := store.Read(context.Background(), scope, scorer.ResultKey)
	if err != nil {
		t.Fatalf("Read(result) error = %v", err)
	}
	result, ok := raw.(map[string]any)
	if !ok {
		t.Fatalf("result has type %T, want map", raw)
	}
	if result["average"] != 8.0 {
		t.Fatalf("result average = %v, want 8", result["average"])
	}
	if result["rating"] != RatingStrong {
		t.Fatalf("result rating = %v, want %s", result["rating"], RatingStrong)
	}
}

func TestAssessmentScorerModerateRating(t *testing.T) {
	t.Parallel()

	store := memoryx.NewInMemoryStore()
	view := scorerView(store)
	scope := contractx.UserScope(view.UserID)
	scorer := testScorer()

	err := store.Write(context.Background(), scope, scorer.StateKey, map[string]any{
		"focus":         5.0,
		"resilience":    5.0,
		"collaboration": 5.0,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	fire, err := scorer.ShouldTransfer(context.Background(), view)
	if err != nil {
		t.Fatalf("ShouldTransfer() error = %v", err)
	}
	if !fire {
		t.Fatal("expected the scorer to fire")
	}

	raw, err := store.Read(context.Background(), scope, scorer.ResultKey)
	if err != nil {
		t.Fatalf("Read(result) error = %v", err)
	}
	if raw.(map[string]any)["rating"] != RatingModerate {
		t.Fatalf("rating = %v, want %s", raw.(map[string]any)["rating"], RatingModerate)
	}
}

func TestAssessmentScorerRejectsNonNumericScore(t *testing.T) {
	t.Parallel()

	store := memoryx.NewInMemoryStore()
	view := scorerView(store)
	scorer := testScorer()

	err := store.Write(context.Background(), contractx.UserScope(view.UserID), scorer.StateKey, map[string]any{
		"focus":         "high",
		"resilience":    5.0,
		"collaboration": 5.0,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if _, err := scorer.ShouldTransfer(context.Background(), view); err == nil {
		t.Fatal("expected error for non-numeric score")
	}
}

func TestAssessmentScorerRequiresConfiguration(t *testing.T) {
	t.Parallel()

	view := scorerView(memoryx.NewInMemoryStore())

	scorer := &AssessmentScorer{ResultKey: "r", Topics: []string{"a"}}
	if _, err := scorer.ShouldTransfer(context.Background(), view); err == nil {
		t.Fatal("expected error for missing state key")
	}

	scorer = &AssessmentScorer{StateKey: "s", ResultKey: "r"}
	if _, err := scorer.ShouldTransfer(context.Background(), view); err == nil {
		t.Fatal("expected error for missing topics")
	}
}
