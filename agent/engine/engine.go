package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	crewx "github.com/tanpawarit/crewflow/agent/crew"
	fieldsx "github.com/tanpawarit/crewflow/agent/fields"
	generatex "github.com/tanpawarit/crewflow/agent/generate"
	statex "github.com/tanpawarit/crewflow/agent/state"
	transitionx "github.com/tanpawarit/crewflow/agent/transition"
)

var (
	ErrInvalidMessage      = errors.New("message is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

// Engine drives one turn at a time through the fixed pipeline: field
// collection, pre-transfer chain, generation/tool loop, delivery,
// post-transfer. Turns within one conversation are strictly serialized;
// distinct conversations run independently.
type Engine struct {
	registry    *crewx.Registry
	store       statex.Store
	memory      contractx.ContextStore
	collector   *fieldsx.Collector
	transitions *transitionx.Controller
	loop        *generatex.Loop

	locks sync.Map // conversation id -> *sync.Mutex

	now func() time.Time
}

func New(
	registry *crewx.Registry,
	store statex.Store,
	memory contractx.ContextStore,
	extractor contractx.FieldExtractor,
	loop *generatex.Loop,
) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("crew registry is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if memory == nil {
		return nil, errors.New("context store is required")
	}
	if loop == nil {
		return nil, errors.New("generation loop is required")
	}

	collector, err := fieldsx.NewCollector(extractor)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry:    registry,
		store:       store,
		memory:      memory,
		collector:   collector,
		transitions: transitionx.NewController(),
		loop:        loop,
		now:         time.Now,
	}, nil
}

// HandleMessage processes one inbound user message and returns the reply.
// On a fatal turn error the conversation stays on the crew it was on before
// the turn began, so the user can retry.
func (e *Engine) HandleMessage(ctx context.Context, agentName, conversationID, userID, text string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", ErrInvalidConversation
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrInvalidMessage
	}

	mu := e.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	// The snapshot is captured once per turn: a hot swap that lands after
	// this point is observed by the next turn, never by this one.
	snap, err := e.registry.Snapshot(agentName)
	if err != nil {
		return "", err
	}

	now := e.now().UTC()
	conv, err := e.loadOrCreate(ctx, snap, conversationID, userID, now)
	if err != nil {
		return "", err
	}
	priorCrew := conv.ActiveCrew

	def, err := snap.Resolve(conv.ActiveCrew)
	if err != nil {
		return "", err
	}

	incoming := contractx.Message{Role: contractx.RoleUser, Content: text}
	turnHistory := append(append([]contractx.Message(nil), conv.History...), incoming)

	// Extraction trouble is tolerated: the turn proceeds on what was already
	// collected, missing fields simply stay not-yet-collected.
	collected, err := e.collector.Collect(ctx, def, turnHistory, conv.Collected)
	if err != nil {
		log.Warn().
			Str("conversation", conversationID).
			Str("crew", def.Name).
			Err(err).
			Msg("field extraction failed, proceeding with previously collected fields")
		collected = conv.Collected
	}
	conv.Collected = collected

	view := e.viewFor(snap.AgentName(), conv)
	activeCrew, hops, err := e.transitions.RunPreTransfers(ctx, snap, view, conv.ActiveCrew)
	if err != nil {
		return "", err
	}
	conv.ActiveCrew = activeCrew
	view.CrewName = activeCrew

	if activeCrew != priorCrew {
		def, err = snap.Resolve(activeCrew)
		if err != nil {
			return "", err
		}
		log.Info().
			Str("conversation", conversationID).
			Str("from", priorCrew).
			Str("to", activeCrew).
			Int("hops", hops).
			Msg("conversation transferred before reply")
	}

	runtimeContext, err := e.buildContext(ctx, def, view)
	if err != nil {
		return "", err
	}

	reply, err := e.loop.Run(ctx, def, view, runtimeContext, turnHistory)
	if err != nil {
		return "", err
	}

	conv.AppendTurn(text, reply)
	conv.Touch(now)
	if err := e.store.Save(ctx, conv); err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}

	// The reply is already final here: a post-transfer failure keeps the
	// conversation where it is instead of discarding a delivered reply.
	nextCrew, fired, err := e.transitions.RunPostTransfer(ctx, snap, view, conv.ActiveCrew)
	if err != nil {
		log.Error().
			Str("conversation", conversationID).
			Str("crew", conv.ActiveCrew).
			Err(err).
			Msg("post-message transfer failed, staying on current crew")
		return reply, nil
	}
	if fired {
		conv.ActiveCrew = nextCrew
		conv.Touch(e.now())
		if err := e.store.Save(ctx, conv); err != nil {
			log.Error().
				Str("conversation", conversationID).
				Str("crew", nextCrew).
				Err(err).
				Msg("failed to persist post-message transfer")
		}
	}

	return reply, nil
}

func (e *Engine) loadOrCreate(
	ctx context.Context,
	snap *crewx.Snapshot,
	conversationID, userID string,
	now time.Time,
) (*statex.Conversation, error) {
	conv, err := e.store.Load(ctx, conversationID)
	if err == nil {
		conv.EnsureCollected()
		return conv, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, err
	}
	return statex.NewConversation(conversationID, snap.AgentName(), userID, snap.DefaultCrew(), now), nil
}

func (e *Engine) viewFor(agentName string, conv *statex.Conversation) contractx.TurnView {
	return contractx.TurnView{
		AgentName:      agentName,
		CrewName:       conv.ActiveCrew,
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Collected:      conv.Collected,
		Memory:         e.memory,
	}
}

// buildContext uses the crew's override when present, otherwise the default:
// display name, collected fields, and the names still missing.
func (e *Engine) buildContext(ctx context.Context, def *crewx.Definition, view contractx.TurnView) (map[string]any, error) {
	if def.Context != nil {
		built, err := def.Context.Build(ctx, view)
		if err != nil {
			return nil, fmt.Errorf("build context for crew=%s: %w", def.Name, err)
		}
		return built, nil
	}

	missing := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		if view.Collected[f.Name] == "" {
			missing = append(missing, f.Name)
		}
	}
	return map[string]any{
		"crew":             def.DisplayName,
		"collected_fields": view.Collected,
		"missing_fields":   missing,
	}, nil
}

func (e *Engine) lockFor(conversationID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
