package memory

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

func TestInMemoryStoreWriteRead(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	scope := contractx.ConversationScope("conv-1")

	if err := store.Write(context.Background(), scope, "draft", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := store.Read(context.Background(), scope, "draft")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, ok := raw.(map[string]any)
	if !ok || got["a"] != 1 {
		t.Fatalf("Read() = %#v, want map with a=1", raw)
	}
}

func TestInMemoryStoreReadNotFound(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	_, err := store.Read(context.Background(), contractx.UserScope("user-1"), "missing")
	if !errors.Is(err, contractx.ErrKeyNotFound) {
		t.Fatalf("Read() error = %v, want ErrKeyNotFound", err)
	}
}

func TestInMemoryStoreMergeUnionsObjects(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	scope := contractx.UserScope("user-1")

	if err := store.Merge(context.Background(), scope, "state", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if err := store.Merge(context.Background(), scope, "state", map[string]any{"b": 2}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	raw, err := store.Read(context.Background(), scope, "state")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got := raw.(map[string]any)
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("Read() = %#v, want {a:1 b:2}", got)
	}
}

func TestInMemoryStoreMergeLaterKeysWin(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	scope := contractx.UserScope("user-1")

	if err := store.Merge(context.Background(), scope, "state", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if err := store.Merge(context.Background(), scope, "state", map[string]any{"a": 9}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	raw, err := store.Read(context.Background(), scope, "state")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if raw.(map[string]any)["a"] != 9 {
		t.Fatalf("Read() = %#v, want a=9", raw)
	}
}

func TestInMemoryStoreMergeReplacesNonObject(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	scope := contractx.ConversationScope("conv-1")

	if err := store.Write(context.Background(), scope, "state", "plain string"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Merge(context.Background(), scope, "state", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	raw, err := store.Read(context.Background(), scope, "state")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, ok := raw.(map[string]any)
	if !ok || got["a"] != 1 || len(got) != 1 {
		t.Fatalf("Read() = %#v, want {a:1}", raw)
	}
}

func TestInMemoryStoreScopeIsolation(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()

	err := store.Write(context.Background(), contractx.ConversationScope("conv-1"), "k", "conversation value")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	err = store.Write(context.Background(), contractx.UserScope("conv-1"), "k", "user value")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := store.Read(context.Background(), contractx.ConversationScope("conv-1"), "k")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if raw != "conversation value" {
		t.Fatalf("Read(conversation) = %v, want conversation value", raw)
	}

	if _, err := store.Read(context.Background(), contractx.ConversationScope("conv-2"), "k"); !errors.Is(err, contractx.ErrKeyNotFound) {
		t.Fatalf("Read(other conversation) error = %v, want ErrKeyNotFound", err)
	}
}

func TestInMemoryStoreReadReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	scope := contractx.UserScope("user-1")

	if err := store.Write(context.Background(), scope, "state", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := store.Read(context.Background(), scope, "state")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	raw.(map[string]any)["a"] = 99

	again, err := store.Read(context.Background(), scope, "state")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if again.(map[string]any)["a"] != 1 {
		t.Fatal("mutating a read value leaked into the store")
	}
}

func TestEntryKey(t *testing.T) {
	t.Parallel()

	got, err := EntryKey(contractx.UserScope("u1"), "profile")
	if err != nil {
		t.Fatalf("EntryKey() error = %v", err)
	}
	if got != "user:u1:profile" {
		t.Fatalf("EntryKey() = %q, want user:u1:profile", got)
	}

	if _, err := EntryKey(contractx.Scope{Kind: "global", ID: "x"}, "k"); err == nil {
		t.Fatal("expected error for invalid scope kind")
	}
	if _, err := EntryKey(contractx.UserScope("  "), "k"); err == nil {
		t.Fatal("expected error for empty scope id")
	}
	if _, err := EntryKey(contractx.UserScope("u1"), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}
