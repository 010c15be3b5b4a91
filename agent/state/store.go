package state

import (
	"context"
	"sync"
)

// Store is the persistence contract the engine uses for conversation state.
// Load returns ErrStateNotFound for an unknown conversation.
type Store interface {
	Load(ctx context.Context, conversationID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, conversationID string) error
}

// InMemoryStore keeps conversations in process memory, for tests and
// single-node runs without external persistence.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *InMemoryStore) Load(_ context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return conv.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}
