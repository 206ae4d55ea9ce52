package field

import (
	"context"
	"errors"
	"testing"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ev := &ledger.FieldResonanceEvent{Type: "healing", Intensity: 7}
	if err := store.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	active, err := store.ActiveEvents(ctx)
	if err != nil {
		t.Fatalf("ActiveEvents failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active event, got %d", len(active))
	}

	if _, err := store.ResolveEvent(ctx, ev.ID); err != nil {
		t.Fatalf("ResolveEvent failed: %v", err)
	}
	if _, err := store.ResolveEvent(ctx, ev.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Expected ErrAlreadyResolved, got %v", err)
	}

	active, err = store.ActiveEvents(ctx)
	if err != nil {
		t.Fatalf("ActiveEvents failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active events, got %d", len(active))
	}
}

func TestMemoryStoreCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ev := &ledger.FieldResonanceEvent{Type: "grief", Intensity: 5}
	if err := store.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	got, err := store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	got.Intensity = 99

	again, err := store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if again.Intensity != 5 {
		t.Errorf("Store state mutated through a returned copy: %d", again.Intensity)
	}
}

func TestMemoryStoreUnknownID(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.GetEvent(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
