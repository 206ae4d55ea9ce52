package field

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

func redisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStoreWithClient(client, "test:")
}

func TestRedisStoreCreateAndList(t *testing.T) {
	ctx := context.Background()
	store := redisStore(t)

	ev := &ledger.FieldResonanceEvent{Type: "healing", Intensity: 8, Description: "deep rest needed"}
	if err := store.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("Expected an assigned ID")
	}
	if !ev.Active {
		t.Error("New event must be active")
	}

	active, err := store.ActiveEvents(ctx)
	if err != nil {
		t.Fatalf("ActiveEvents failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active event, got %d", len(active))
	}
	if active[0].Type != "healing" || active[0].Intensity != 8 {
		t.Errorf("Event round-trip mismatch: %+v", active[0])
	}
}

func TestRedisStoreResolve(t *testing.T) {
	ctx := context.Background()
	store := redisStore(t)

	ev := &ledger.FieldResonanceEvent{Type: "grief", Intensity: 6}
	if err := store.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	resolved, err := store.ResolveEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ResolveEvent failed: %v", err)
	}
	if resolved.Active {
		t.Error("Resolved event must not be active")
	}
	if resolved.ResolvedAt == nil {
		t.Error("Resolved event must carry a resolution timestamp")
	}

	active, err := store.ActiveEvents(ctx)
	if err != nil {
		t.Fatalf("ActiveEvents failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active events, got %d", len(active))
	}

	// Resolution is monotonic.
	if _, err := store.ResolveEvent(ctx, ev.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Expected ErrAlreadyResolved, got %v", err)
	}

	// The record itself survives resolution.
	got, err := store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got.Active {
		t.Error("Stored event must remain resolved")
	}
}

func TestRedisStoreUnknownID(t *testing.T) {
	ctx := context.Background()
	store := redisStore(t)

	if _, err := store.GetEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.ResolveEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreEmptyActiveSet(t *testing.T) {
	store := redisStore(t)

	active, err := store.ActiveEvents(context.Background())
	if err != nil {
		t.Fatalf("ActiveEvents failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected empty list, got %d", len(active))
	}
}
