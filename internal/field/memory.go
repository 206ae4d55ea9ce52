package field

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// MemoryStore is an in-process Store for tests and single-node runs without
// Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*ledger.FieldResonanceEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*ledger.FieldResonanceEvent)}
}

func (s *MemoryStore) CreateEvent(_ context.Context, ev *ledger.FieldResonanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Active = true
	ev.ResolvedAt = nil

	copied := *ev
	s.events[ev.ID] = &copied
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*ledger.FieldResonanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (s *MemoryStore) ActiveEvents(_ context.Context) ([]ledger.FieldResonanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.FieldResonanceEvent
	for _, ev := range s.events {
		if ev.Active {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) ResolveEvent(_ context.Context, id string) (*ledger.FieldResonanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !ev.Active || ev.ResolvedAt != nil {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	ev.Active = false
	ev.ResolvedAt = &now

	copied := *ev
	return &copied, nil
}

var _ Store = (*MemoryStore)(nil)
