package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	crewx "github.com/tanpawarit/crewflow/agent/crew"
	enginex "github.com/tanpawarit/crewflow/agent/engine"
	extractx "github.com/tanpawarit/crewflow/agent/extract"
	generatex "github.com/tanpawarit/crewflow/agent/generate"
	memoryx "github.com/tanpawarit/crewflow/agent/memory"
	statex "github.com/tanpawarit/crewflow/agent/state"
	toolx "github.com/tanpawarit/crewflow/agent/tool"
	transitionx "github.com/tanpawarit/crewflow/agent/transition"
	configx "github.com/tanpawarit/crewflow/pkg/config"
	_ "github.com/tanpawarit/crewflow/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/crewflow/pkg/openrouter"
)

const (
	demoAgent          = "onboarding"
	assessmentStateKey = "assessment_state"
	assessmentResult   = "assessment_result"
)

type AppConfig struct {
	StateBackend   string `envconfig:"STATE_BACKEND" split_words:"true" default:"memory"`
	ContextBackend string `envconfig:"CONTEXT_BACKEND" split_words:"true" default:"memory"`
	UserID         string `envconfig:"USER_ID" split_words:"true" default:"local-user"`
}

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("")
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")

	chatModel, err := openRouterCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("create chat model")
	}

	extractor, err := extractx.NewLLMExtractor(ctx, chatModel)
	if err != nil {
		log.Fatal().Err(err).Msg("create field extractor")
	}

	catalog := toolx.NewCatalog()
	if err := catalog.Register(toolx.MathToolInfo(), toolx.MathHandler); err != nil {
		log.Fatal().Err(err).Msg("register math tool")
	}
	if err := catalog.Register(toolx.AssessmentRecordInfo(), toolx.NewAssessmentRecorder(assessmentStateKey)); err != nil {
		log.Fatal().Err(err).Msg("register assessment tool")
	}

	loop, err := generatex.NewLoop(chatModel, catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("create generation loop")
	}

	registry := crewx.NewRegistry()
	if err := registry.Load(demoAgent, demoCrews()); err != nil {
		log.Fatal().Err(err).Msg("load crew graph")
	}

	store, err := buildStateStore(ctx, appCfg.StateBackend)
	if err != nil {
		log.Fatal().Err(err).Msg("create conversation store")
	}

	contextStore, err := buildContextStore(appCfg.ContextBackend)
	if err != nil {
		log.Fatal().Err(err).Msg("create context store")
	}

	eng, err := enginex.New(registry, store, contextStore, extractor, loop)
	if err != nil {
		log.Fatal().Err(err).Msg("create engine")
	}

	runREPL(ctx, eng, appCfg.UserID)
}

func buildStateStore(ctx context.Context, backend string) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return statex.NewInMemoryStore(), nil
	case "upstash":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		return statex.NewUpstashRedisStore(*cfg)
	case "postgres":
		cfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		store, err := statex.NewPostgresStore(*cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

func buildContextStore(backend string) (contractx.ContextStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return memoryx.NewInMemoryStore(), nil
	case "upstash":
		cfg := configx.MustNew[memoryx.UpstashContextConfig]("UPSTASH_REDIS")
		return memoryx.NewUpstashContextStore(*cfg)
	default:
		return nil, fmt.Errorf("unknown context backend %q", backend)
	}
}

func demoCrews() []*crewx.Definition {
	intake := &crewx.Definition{
		Name:        "intake",
		DisplayName: "Intake",
		Guidance: "You welcome the user to the onboarding program. Collect their " +
			"name and age conversationally; ask for one missing detail at a time.",
		Fields: []contractx.Field{
			{Name: "user_name", Description: "The user's preferred name"},
			{Name: "age", Description: "The user's age in years", Type: "number"},
		},
		ExtractionMode: contractx.ExtractionConversational,
		TransitionTo:   "screening",
		Default:        true,
		PreTransfer: crewx.TransferRuleFunc(func(_ context.Context, view contractx.TurnView) (bool, error) {
			return view.CollectedNonEmpty("user_name") && view.CollectedNonEmpty("age"), nil
		}),
	}

	screening := &crewx.Definition{
		Name:        "screening",
		DisplayName: "Screening",
		Guidance: "The user does not meet the age requirement for the assessment. " +
			"Explain this kindly and suggest they come back later.",
		ExtractionMode: contractx.ExtractionConversational,
		TransitionTo:   "assessment",
		PreTransfer: crewx.TransferRuleFunc(func(_ context.Context, view contractx.TurnView) (bool, error) {
			age, err := strconv.Atoi(view.Collected["age"])
			if err != nil {
				return false, nil
			}
			return age >= 18, nil
		}),
	}

	assessment := &crewx.Definition{
		Name:        "assessment",
		DisplayName: "Assessment",
		Guidance: "You run a three-topic self-assessment (focus, resilience, " +
			"collaboration). Ask the user to rate each topic from 0 to 10 and " +
			"record every stated rating with the assessment.record tool.",
		ExtractionMode: contractx.ExtractionConversational,
		Tools:          []string{toolx.ToolAssessmentRecord, toolx.ToolMathEvaluate},
		TransitionTo:   "results",
		PostTransfer: &transitionx.AssessmentScorer{
			StateKey:  assessmentStateKey,
			ResultKey: assessmentResult,
			Topics:    []string{"focus", "resilience", "collaboration"},
		},
	}

	results := &crewx.Definition{
		Name:           "results",
		DisplayName:    "Results",
		Guidance:       "Present the user's assessment rating and close the conversation warmly.",
		ExtractionMode: contractx.ExtractionConversational,
		Context: crewx.ContextBuilderFunc(func(ctx context.Context, view contractx.TurnView) (map[string]any, error) {
			result, err := view.Memory.Read(ctx, contractx.UserScope(view.UserID), assessmentResult)
			if err != nil {
				return map[string]any{"crew": "Results"}, nil
			}
			return map[string]any{"crew": "Results", "assessment_result": result}, nil
		}),
	}

	return []*crewx.Definition{intake, screening, assessment, results}
}

func runREPL(ctx context.Context, eng *enginex.Engine, userID string) {
	conversationID := fmt.Sprintf("local-%s", userID)
	fmt.Println("crewflow demo agent, type a message (ctrl-d to exit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := eng.HandleMessage(ctx, demoAgent, conversationID, userID, text)
		if err != nil {
			log.Error().Err(err).Msg("turn failed")
			continue
		}
		fmt.Println(reply)
	}
}
