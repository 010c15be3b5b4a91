package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

// InMemoryStore is a process-local ContextStore for tests and single-node
// runs. Concurrent writes to the same entry resolve last-writer-wins, same as
// the durable backends.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]any
}

var _ contractx.ContextStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]any)}
}

func (s *InMemoryStore) Write(_ context.Context, scope contractx.Scope, key string, value any) error {
	entryKey, err := EntryKey(scope, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey] = cloneValue(value)
	return nil
}

func (s *InMemoryStore) Merge(_ context.Context, scope contractx.Scope, key string, partial map[string]any) error {
	entryKey, err := EntryKey(scope, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, _ := s.entries[entryKey].(map[string]any)
	s.entries[entryKey] = MergeObjects(existing, partial)
	return nil
}

func (s *InMemoryStore) Read(_ context.Context, scope contractx.Scope, key string) (any, error) {
	entryKey, err := EntryKey(scope, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[entryKey]
	if !ok {
		return nil, fmt.Errorf("%w: scope=%s/%s key=%s", contractx.ErrKeyNotFound, scope.Kind, scope.ID, key)
	}
	return cloneValue(value), nil
}

// EntryKey flattens (scope, key) into a single namespaced key shared by every
// backend, so the scoping rules live in one place.
func EntryKey(scope contractx.Scope, key string) (string, error) {
	if scope.Kind != contractx.ScopeConversation && scope.Kind != contractx.ScopeUser {
		return "", fmt.Errorf("invalid scope kind=%q", scope.Kind)
	}
	if strings.TrimSpace(scope.ID) == "" {
		return "", fmt.Errorf("scope id is empty for kind=%s", scope.Kind)
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("context key is empty")
	}
	return fmt.Sprintf("%s:%s:%s", scope.Kind, scope.ID, key), nil
}

// MergeObjects shallow-unions partial onto existing, later keys winning.
// A nil existing (or a previous non-object value, which callers pass as nil)
// degrades to a plain copy of partial.
func MergeObjects(existing map[string]any, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(partial))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

func cloneValue(value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	cloned := make(map[string]any, len(obj))
	for k, v := range obj {
		cloned[k] = v
	}
	return cloned
}
