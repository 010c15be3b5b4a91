package extract

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

//go:embed template/extractor.txt
var extractorPromptRaw string

type extractionOutput struct {
	Fields map[string]string `json:"fields"`
}

// LLMExtractor implements the field-extraction contract with a structured
// chat-model call: transcript slice and target fields in, a partial map of
// field values out. The caller decides what the extractor is allowed to see;
// this type reads exactly what it is given.
type LLMExtractor struct {
	runner compose.Runnable[map[string]any, extractionOutput]
}

var _ contractx.FieldExtractor = (*LLMExtractor)(nil)

func NewLLMExtractor(ctx context.Context, chatModel einomodel.BaseChatModel) (*LLMExtractor, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}

	runner, err := compileExtractionGraph(ctx, chatModel, strings.TrimSpace(extractorPromptRaw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return &LLMExtractor{runner: runner}, nil
}

func (e *LLMExtractor) Extract(
	ctx context.Context,
	history []contractx.Message,
	fields []contractx.Field,
) (map[string]string, error) {
	if len(history) == 0 || len(fields) == 0 {
		return map[string]string{}, nil
	}

	payload := map[string]any{
		"messages": history,
		"fields":   summarizeFields(fields),
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal extraction payload: %v", contractx.ErrValidation, err)
	}

	out, err := e.runner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: extractor invoke: %v", contractx.ErrModelInvoke, err)
	}

	if out.Fields == nil {
		return map[string]string{}, nil
	}
	return out.Fields, nil
}

func summarizeFields(fields []contractx.Field) []map[string]any {
	summaries := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		summary := map[string]any{
			"name":        f.Name,
			"description": f.Description,
		}
		if f.Type != "" {
			summary["type"] = f.Type
		}
		if len(f.AllowedValues) > 0 {
			summary["allowed_values"] = f.AllowedValues
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
