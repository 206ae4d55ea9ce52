// Package field holds the field resonance store: the set of currently
// active need signals that gate redistributions.
package field

import (
	"context"
	"errors"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// ErrNotFound is returned when no event exists for an ID.
var ErrNotFound = errors.New("field resonance event not found")

// ErrAlreadyResolved is returned when resolving an event a second time.
var ErrAlreadyResolved = errors.New("field resonance event already resolved")

// Store holds field resonance events. Resolution is monotonic: a resolved
// event never becomes active again.
type Store interface {
	// CreateEvent persists a new active event. ID and CreatedAt are
	// assigned when empty.
	CreateEvent(ctx context.Context, ev *ledger.FieldResonanceEvent) error

	// ActiveEvents lists all currently active events.
	ActiveEvents(ctx context.Context) ([]ledger.FieldResonanceEvent, error)

	// ResolveEvent marks an event resolved exactly once. It returns
	// ErrNotFound for unknown IDs and ErrAlreadyResolved on repeat calls.
	ResolveEvent(ctx context.Context, id string) (*ledger.FieldResonanceEvent, error)

	// GetEvent returns one event regardless of its active flag.
	GetEvent(ctx context.Context, id string) (*ledger.FieldResonanceEvent, error)
}
