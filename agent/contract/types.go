package contract

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history as the core stores it.
// Provider-specific message schemas are built from this at the adapter edge.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ExtractionMode controls how much history the field extractor may consider.
type ExtractionMode string

const (
	// ExtractionConversational lets the extractor read the recent history window.
	ExtractionConversational ExtractionMode = "conversational"
	// ExtractionForm restricts the extractor to the single latest user message.
	// Used where a value must map to one explicit utterance, e.g. an
	// authorization phrase.
	ExtractionForm ExtractionMode = "form"
)

// Field is one piece of information a crew tries to elicit from the user.
type Field struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Type          string   `json:"type,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`

	// AlwaysExpose re-exposes the field every turn even after it has a value,
	// for values that legitimately change (e.g. "latest OTP code entered").
	AlwaysExpose bool `json:"always_expose,omitempty"`
}

// ScopeKind selects the visibility of a context entry.
type ScopeKind string

const (
	ScopeConversation ScopeKind = "conversation"
	ScopeUser         ScopeKind = "user"
)

// Scope addresses a context-store namespace: conversation-scope entries are
// visible only within the owning conversation, user-scope entries across all
// of that user's conversations.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeConversation, ID: conversationID}
}

func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, ID: userID}
}

// TurnView is the read surface handed to crew hooks and context builders.
// The context store is injected here rather than reached through a global.
type TurnView struct {
	AgentName      string
	CrewName       string
	ConversationID string
	UserID         string
	Collected      map[string]string
	Memory         ContextStore
}

// CollectedNonEmpty reports whether the named field has a non-empty value.
func (v TurnView) CollectedNonEmpty(name string) bool {
	return v.Collected[name] != ""
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is what the generation loop feeds back to the model. A failed
// handler populates Error instead of raising; the model recovers or apologizes.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ContextStore is scoped key-value persistence shared across crews and, for
// user scope, across conversations. Last writer wins; no cross-key
// transactions, no version checks.
type ContextStore interface {
	// Write replaces the value stored under (scope, key).
	Write(ctx context.Context, scope Scope, key string, value any) error
	// Merge shallow-unions partial into the object stored under (scope, key);
	// later keys win on conflict. A non-object existing value is replaced.
	Merge(ctx context.Context, scope Scope, key string, partial map[string]any) error
	// Read returns the most recent committed write, or ErrKeyNotFound.
	Read(ctx context.Context, scope Scope, key string) (any, error)
}

// FieldExtractor is the external micro-agent that reads conversation history
// and produces field values. No guarantee of completeness per call: absent
// fields are simply not yet collected.
type FieldExtractor interface {
	Extract(ctx context.Context, history []Message, fields []Field) (map[string]string, error)
}
