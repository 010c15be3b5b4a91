package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	conv := NewConversation("conv-1", "agent-a", "user-1", "intake", time.Now())
	conv.Collected["age"] = "27"

	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Collected["age"] != "27" {
		t.Fatalf("loaded Collected[age] = %q, want 27", loaded.Collected["age"])
	}

	// Mutating the loaded copy must not leak into the store.
	loaded.Collected["age"] = "99"
	again, err := store.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if again.Collected["age"] != "27" {
		t.Fatal("loaded conversation aliases stored state")
	}
}

func TestInMemoryStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	if _, err := store.Load(context.Background(), "ghost"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryStoreSaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	if err := store.Save(context.Background(), &Conversation{ID: "conv-1"}); err == nil {
		t.Fatal("expected error for conversation without an active crew")
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	conv := NewConversation("conv-1", "agent-a", "user-1", "intake", time.Now())
	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "conv-1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after delete error = %v, want ErrStateNotFound", err)
	}
}
