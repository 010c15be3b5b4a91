package contract

import "errors"

var (
	// ErrConfiguration marks an invalid crew graph: zero or duplicate default
	// crew, a dangling transition target, or a terminal crew whose transfer
	// hook fires. Fatal at load time, never silently ignored.
	ErrConfiguration = errors.New("crew configuration is invalid")

	// ErrTransitionLoop marks a pre-transfer chain that exceeded the hop
	// budget within a single turn.
	ErrTransitionLoop = errors.New("transfer chain exceeded hop budget")

	// ErrGenerationBudget marks a turn whose tool-call round-trips exceeded
	// the fixed budget.
	ErrGenerationBudget = errors.New("tool-call budget exceeded")

	// ErrKeyNotFound is returned by ContextStore.Read for an absent key.
	ErrKeyNotFound = errors.New("context key not found")

	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")
)
