package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	crewx "github.com/tanpawarit/crewflow/agent/crew"
	toolx "github.com/tanpawarit/crewflow/agent/tool"
)

// MaxToolRounds bounds the tool-call round-trips within one turn. Exceeding
// it fails the turn loudly rather than truncating silently.
const MaxToolRounds = 10

// Loop produces a crew's reply: it invokes the chat model, dispatches any
// tool-call requests to the catalog, feeds results back, and repeats until
// the model answers in plain text or the round budget runs out.
type Loop struct {
	model einomodel.ToolCallingChatModel
	tools *toolx.Catalog
}

func NewLoop(model einomodel.ToolCallingChatModel, tools *toolx.Catalog) (*Loop, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	if tools == nil {
		return nil, errors.New("tool catalog is required")
	}
	return &Loop{model: model, tools: tools}, nil
}

// Run generates the reply for one turn under the given crew. runtimeContext
// comes from the crew's context builder; history already includes the inbound
// user message. Cancelling ctx stops generation; nothing produced so far is
// returned.
func (l *Loop) Run(
	ctx context.Context,
	def *crewx.Definition,
	view contractx.TurnView,
	runtimeContext map[string]any,
	history []contractx.Message,
) (string, error) {
	if def == nil {
		return "", errors.New("crew definition is required")
	}

	messages, err := buildMessages(def, runtimeContext, history)
	if err != nil {
		return "", err
	}

	model := einomodel.BaseChatModel(l.model)
	infos := l.tools.Infos(def.Tools)
	if len(infos) > 0 {
		bound, err := l.model.WithTools(infos)
		if err != nil {
			return "", fmt.Errorf("%w: bind tools for crew=%s: %v", contractx.ErrModelInvoke, def.Name, err)
		}
		model = bound
	}

	for round := 0; ; round++ {
		out, err := model.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("%w: crew=%s: %v", contractx.ErrModelInvoke, def.Name, err)
		}
		if out == nil {
			return "", fmt.Errorf("%w: crew=%s returned no message", contractx.ErrSchemaViolation, def.Name)
		}

		if len(out.ToolCalls) == 0 {
			reply := strings.TrimSpace(out.Content)
			if reply == "" {
				return "", fmt.Errorf("%w: crew=%s produced an empty reply", contractx.ErrSchemaViolation, def.Name)
			}
			return reply, nil
		}

		// The budget counts tool round-trips: after MaxToolRounds dispatches
		// the model may still answer in plain text, never call tools again.
		if round >= MaxToolRounds {
			return "", fmt.Errorf("%w: crew=%s used more than %d tool rounds",
				contractx.ErrGenerationBudget, def.Name, MaxToolRounds)
		}

		messages = append(messages, out)
		for _, call := range out.ToolCalls {
			req, err := toToolRequest(call)
			if err != nil {
				return "", err
			}

			result := l.tools.Dispatch(ctx, view, req)
			payload, err := json.Marshal(result)
			if err != nil {
				return "", fmt.Errorf("marshal tool result for tool=%s: %w", req.Tool, err)
			}
			messages = append(messages, schema.ToolMessage(string(payload), call.ID))

			log.Debug().
				Str("crew", def.Name).
				Str("tool", req.Tool).
				Int("round", round+1).
				Bool("failed", result.Error != "").
				Msg("tool call dispatched")
		}
	}
}

func buildMessages(def *crewx.Definition, runtimeContext map[string]any, history []contractx.Message) ([]*schema.Message, error) {
	system := strings.TrimSpace(def.Guidance)
	if len(runtimeContext) > 0 {
		encoded, err := json.Marshal(runtimeContext)
		if err != nil {
			return nil, fmt.Errorf("marshal runtime context for crew=%s: %w", def.Name, err)
		}
		system = system + "\n\n## Runtime context\n" + string(encoded)
	}
	if kb := strings.TrimSpace(def.KnowledgeBase); kb != "" {
		system = system + "\n\n## Knowledge base\n" + kb
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(system))
	for _, m := range history {
		switch m.Role {
		case contractx.RoleUser:
			messages = append(messages, schema.UserMessage(m.Content))
		case contractx.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		}
	}
	return messages, nil
}

func toToolRequest(call schema.ToolCall) (contractx.ToolRequest, error) {
	name := strings.TrimSpace(call.Function.Name)
	if name == "" {
		return contractx.ToolRequest{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return contractx.ToolRequest{}, fmt.Errorf("%w: invalid tool args for tool=%s: %v",
				contractx.ErrSchemaViolation, name, err)
		}
	}
	return contractx.ToolRequest{Tool: name, Args: args}, nil
}
