package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

var (
	ErrStateNotFound     = errors.New("conversation state not found")
	ErrNilConversation   = errors.New("conversation is nil")
	ErrInvalidConversID  = errors.New("conversation id is empty")
	ErrUnknownActiveCrew = errors.New("active crew is empty")
)

// HistoryWindow bounds the stored turn history; conversational extraction and
// generation both read from this window.
const HistoryWindow = 20

// Conversation is the mutable run of one user through one agent. It is
// created on first contact, pointed at the agent's default crew, and from
// then on mutated only turn by turn: the active crew through the transition
// controller, collected fields through the field-collection contract.
// It is never deleted by the core; retention is an external concern.
type Conversation struct {
	ID        string `json:"id"`
	AgentName string `json:"agent_name"`
	UserID    string `json:"user_id"`

	ActiveCrew string `json:"active_crew"`

	// Collected accumulates monotonically: once a field holds a non-empty
	// value the core never clears it.
	Collected map[string]string `json:"collected,omitempty"`

	History []contractx.Message `json:"history,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewConversation(id, agentName, userID, defaultCrew string, now time.Time) *Conversation {
	return &Conversation{
		ID:         id,
		AgentName:  agentName,
		UserID:     userID,
		ActiveCrew: defaultCrew,
		Collected:  make(map[string]string, 8),
		UpdatedAt:  now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

func (c *Conversation) EnsureCollected() {
	if c.Collected == nil {
		c.Collected = make(map[string]string, 8)
	}
}

// AppendTurn records a completed exchange and trims history to the window.
func (c *Conversation) AppendTurn(userText, assistantText string) {
	c.History = append(c.History,
		contractx.Message{Role: contractx.RoleUser, Content: userText},
		contractx.Message{Role: contractx.RoleAssistant, Content: assistantText},
	)
	if extra := len(c.History) - HistoryWindow; extra > 0 {
		c.History = append([]contractx.Message(nil), c.History[extra:]...)
	}
}

// Clone returns an independent copy, used by stores and tests so a saved
// conversation cannot alias a caller's maps.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.Collected = make(map[string]string, len(c.Collected))
	for k, v := range c.Collected {
		cloned.Collected[k] = v
	}
	cloned.History = append([]contractx.Message(nil), c.History...)
	return &cloned
}

func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(c.ID) == "" {
		return ErrInvalidConversID
	}
	if strings.TrimSpace(c.AgentName) == "" {
		return fmt.Errorf("conversation=%s: agent name is empty", c.ID)
	}
	if strings.TrimSpace(c.ActiveCrew) == "" {
		return fmt.Errorf("conversation=%s: %w", c.ID, ErrUnknownActiveCrew)
	}
	return nil
}
