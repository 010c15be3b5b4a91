package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

const ToolAssessmentRecord = "assessment.record"

// AssessmentRecordInfo describes the tool the model calls to persist one
// topic score during an assessment crew.
func AssessmentRecordInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: ToolAssessmentRecord,
		Desc: "Record the user's score for one assessment topic.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"topic": {Type: schema.String, Desc: "Assessment topic identifier", Required: true},
			"score": {Type: schema.Number, Desc: "Score from 0 to 10", Required: true},
		}),
	}
}

// NewAssessmentRecorder returns a handler that merges {topic: score} into the
// user-scoped entry under stateKey. Each call touches only its own topic key,
// so sequential calls accumulate and repeating a call is harmless.
func NewAssessmentRecorder(stateKey string) Handler {
	return func(ctx context.Context, view contractx.TurnView, args map[string]any) (any, error) {
		if view.Memory == nil {
			return nil, errors.New("context store is unavailable")
		}

		topic, _ := args["topic"].(string)
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, errors.New("topic is required")
		}

		score, ok := args["score"].(float64)
		if !ok {
			return nil, errors.New("score must be a number")
		}
		if score < 0 || score > 10 {
			return nil, fmt.Errorf("score=%v is out of range [0,10]", score)
		}

		scope := contractx.UserScope(view.UserID)
		if err := view.Memory.Merge(ctx, scope, stateKey, map[string]any{topic: score}); err != nil {
			return nil, fmt.Errorf("persist topic score: %w", err)
		}

		return map[string]any{"topic": topic, "score": score, "recorded": true}, nil
	}
}
