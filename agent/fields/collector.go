package fields

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	crewx "github.com/tanpawarit/crewflow/agent/crew"
)

// Collector applies the field-collection contract for one turn: slice history
// per the crew's extraction mode, compute the exposed field subset, call the
// external extractor, and merge its output into the collected map.
type Collector struct {
	extractor contractx.FieldExtractor
}

func NewCollector(extractor contractx.FieldExtractor) (*Collector, error) {
	if extractor == nil {
		return nil, errors.New("field extractor is required")
	}
	return &Collector{extractor: extractor}, nil
}

// Collect returns an updated copy of collected; the input map is never
// mutated. Values, once non-empty, are never cleared here: the extractor can
// overwrite a field with a new non-empty value, nothing else changes it.
// An extractor that returns no fields is not an error.
func (c *Collector) Collect(
	ctx context.Context,
	def *crewx.Definition,
	history []contractx.Message,
	collected map[string]string,
) (map[string]string, error) {
	if def == nil {
		return nil, errors.New("crew definition is required")
	}

	updated := cloneCollected(collected)
	exposed := ExposedFields(def, updated)
	if len(exposed) == 0 {
		return updated, nil
	}

	window := SliceHistory(def.ExtractionMode, history)
	if len(window) == 0 {
		return updated, nil
	}

	extracted, err := c.extractor.Extract(ctx, window, exposed)
	if err != nil {
		return nil, err
	}

	mergeExtracted(def, updated, extracted)
	return updated, nil
}

// SliceHistory returns the portion of history the extractor may consider.
// Form mode sees only the latest user message, so values map deterministically
// to one explicit utterance; conversational mode sees the given window as-is.
func SliceHistory(mode contractx.ExtractionMode, history []contractx.Message) []contractx.Message {
	if mode != contractx.ExtractionForm {
		return history
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == contractx.RoleUser {
			return history[i : i+1]
		}
	}
	return nil
}

// ExposedFields computes the subset of the crew's fields eligible for
// extraction this turn. The default exposes every field; a crew's override is
// additionally filtered so an already-collected field is never re-exposed
// unless it is marked AlwaysExpose. An empty result means extraction is
// skipped for the turn.
func ExposedFields(def *crewx.Definition, collected map[string]string) []contractx.Field {
	if def.Exposure == nil {
		return append([]contractx.Field(nil), def.Fields...)
	}

	proposed := def.Exposure.Expose(cloneCollected(collected), append([]contractx.Field(nil), def.Fields...))
	exposed := make([]contractx.Field, 0, len(proposed))
	for _, f := range proposed {
		declared, ok := def.FieldByName(f.Name)
		if !ok {
			log.Warn().
				Str("crew", def.Name).
				Str("field", f.Name).
				Msg("exposure rule returned an undeclared field, dropping")
			continue
		}
		if collected[declared.Name] != "" && !declared.AlwaysExpose {
			continue
		}
		exposed = append(exposed, declared)
	}
	return exposed
}

// mergeExtracted applies extractor output in place: each returned value
// overwrites only its own field, fields absent from the output stay untouched,
// and empty values are ignored so a collected value is never silently cleared.
func mergeExtracted(def *crewx.Definition, collected map[string]string, extracted map[string]string) {
	for name, value := range extracted {
		declared, ok := def.FieldByName(name)
		if !ok {
			log.Debug().
				Str("crew", def.Name).
				Str("field", name).
				Msg("extractor returned an undeclared field, dropping")
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !valueAllowed(declared, value) {
			log.Debug().
				Str("crew", def.Name).
				Str("field", name).
				Str("value", value).
				Msg("extracted value outside allowed set, dropping")
			continue
		}
		collected[name] = value
	}
}

func valueAllowed(field contractx.Field, value string) bool {
	if len(field.AllowedValues) == 0 {
		return true
	}
	for _, allowed := range field.AllowedValues {
		if strings.EqualFold(allowed, value) {
			return true
		}
	}
	return false
}

func cloneCollected(collected map[string]string) map[string]string {
	cloned := make(map[string]string, len(collected))
	for k, v := range collected {
		cloned[k] = v
	}
	return cloned
}
