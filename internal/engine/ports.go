package engine

import (
	"context"
	"errors"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// ErrOfferingNotFound is returned by recorders for unknown offering IDs.
var ErrOfferingNotFound = errors.New("offering not found")

// ErrOfferingConsumed is returned by ClaimOffering when the offering has
// already been consumed as a redistribution source.
var ErrOfferingConsumed = errors.New("offering already redistributed")

// Recorder durably appends offerings and redistribution records. It is only
// invoked after a confirmed adapter success; a recording failure after a
// successful transfer leaves external and internal state inconsistent and is
// logged loudly by the engine.
type Recorder interface {
	// CreateOffering appends a new offering. ID and CreatedAt are assigned
	// when empty.
	CreateOffering(ctx context.Context, o *ledger.Offering) error

	// GetOffering returns one offering or ErrOfferingNotFound.
	GetOffering(ctx context.Context, id string) (*ledger.Offering, error)

	// ClaimOffering atomically marks the offering consumed as a
	// redistribution source. Of any set of concurrent claims exactly one
	// succeeds; the rest get ErrOfferingConsumed. Unknown IDs return
	// ErrOfferingNotFound.
	ClaimOffering(ctx context.Context, id string) error

	// ReleaseOffering undoes a claim when the transfer it guarded did not
	// happen.
	ReleaseOffering(ctx context.Context, id string) error

	// RecordRedistribution appends the record and stages it for downstream
	// delivery. The source offering named by the record is already claimed
	// by the time this runs.
	RecordRedistribution(ctx context.Context, rec *ledger.RedistributionRecord) error

	// History returns the most recent redistribution records, newest first.
	History(ctx context.Context, limit int) ([]ledger.RedistributionRecord, error)
}

// EventSink receives completed redistributions for live fanout. Delivery is
// best effort and must never block or fail the pipeline.
type EventSink interface {
	RedistributionExecuted(ctx context.Context, rec ledger.RedistributionRecord)
}
