package crew

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

// FieldExposure decides which subset of a crew's fields the extractor sees on
// a given turn. Implementations must be deterministic in collected and must
// not re-expose a field whose value is already non-empty unless the field is
// marked AlwaysExpose.
type FieldExposure interface {
	Expose(collected map[string]string, fields []contractx.Field) []contractx.Field
}

type ExposureFunc func(collected map[string]string, fields []contractx.Field) []contractx.Field

func (f ExposureFunc) Expose(collected map[string]string, fields []contractx.Field) []contractx.Field {
	return f(collected, fields)
}

// TransferRule decides whether the conversation should leave the crew.
// Side effects through view.Memory are permitted but must be idempotent for
// repeated false returns; a store failure means the transfer is not yet safe
// and must surface as an error, never as a silent true.
type TransferRule interface {
	ShouldTransfer(ctx context.Context, view contractx.TurnView) (bool, error)
}

type TransferRuleFunc func(ctx context.Context, view contractx.TurnView) (bool, error)

func (f TransferRuleFunc) ShouldTransfer(ctx context.Context, view contractx.TurnView) (bool, error) {
	return f(ctx, view)
}

// ContextBuilder produces the runtime context object passed to generation.
type ContextBuilder interface {
	Build(ctx context.Context, view contractx.TurnView) (map[string]any, error)
}

type ContextBuilderFunc func(ctx context.Context, view contractx.TurnView) (map[string]any, error)

func (f ContextBuilderFunc) Build(ctx context.Context, view contractx.TurnView) (map[string]any, error) {
	return f(ctx, view)
}

// Definition is the declarative unit of one conversational state. A loaded
// definition is immutable per version: hot swaps install a new value, they
// never mutate one in place.
type Definition struct {
	Name        string
	DisplayName string

	// Guidance is opaque prompt text; the core never interprets it.
	Guidance string

	Fields         []contractx.Field
	ExtractionMode contractx.ExtractionMode

	// Tools lists catalog handler names available during generation.
	Tools []string

	// KnowledgeBase optionally names a retrieval capability; it is passed
	// through to the model adapter and never inspected here.
	KnowledgeBase string

	// TransitionTo names the crew both transfer hooks route to. Empty means
	// terminal: neither hook may ever fire.
	TransitionTo string

	// Default marks the agent's entry state. Exactly one per agent.
	Default bool

	// Optional behavior overrides. Nil falls back to the shared defaults.
	Exposure     FieldExposure
	PreTransfer  TransferRule
	PostTransfer TransferRule
	Context      ContextBuilder
}

// Terminal reports whether the crew has nowhere to transfer to.
func (d *Definition) Terminal() bool {
	return strings.TrimSpace(d.TransitionTo) == ""
}

// FieldByName returns the declared field, if any.
func (d *Definition) FieldByName(name string) (contractx.Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return contractx.Field{}, false
}

// Validate checks the definition in isolation. Graph-level rules (default
// uniqueness, transition targets) are checked by the registry.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition is nil", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: crew name is empty", contractx.ErrConfiguration)
	}
	switch d.ExtractionMode {
	case contractx.ExtractionConversational, contractx.ExtractionForm:
	case "":
		return fmt.Errorf("%w: crew=%s extraction mode is empty", contractx.ErrConfiguration, d.Name)
	default:
		return fmt.Errorf("%w: crew=%s invalid extraction mode=%q", contractx.ErrConfiguration, d.Name, d.ExtractionMode)
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("%w: crew=%s has a field with an empty name", contractx.ErrConfiguration, d.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: crew=%s duplicate field=%s", contractx.ErrConfiguration, d.Name, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
