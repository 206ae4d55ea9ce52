// Package chain defines the uniform capability set implemented once per
// blockchain family, and the registry that holds one adapter per currency.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedCurrency is returned by registry lookups for currencies with
// no registered adapter.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// ErrNotSupported marks a capability a chain family cannot execute yet. An
// adapter may support credential and balance checks while reporting transfers
// as not supported; callers treat this the same as a transfer failure.
var ErrNotSupported = errors.New("capability not supported")

// TransferResult carries the network reference of a submitted transfer.
type TransferResult struct {
	TxReference string
}

// Adapter is the per-network capability set: validate credentials, read
// balance, transfer value.
//
// ValidateCredentials derives the public identity from the held private
// credential and compares it to the configured one; a mismatch is false with
// no error, an error means malformed input.
//
// Balance returns zero plus an error on network failure so a single
// unreachable chain does not abort a multi-chain sweep.
//
// Transfer submits, signs, and waits for confirmation where the network
// model requires it. Concurrent calls on different adapters are safe;
// an adapter serializes its own transfers internally when the network
// demands sequential nonces or fresh blockhashes.
type Adapter interface {
	Currency() string
	ValidateCredentials(ctx context.Context) (bool, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	Transfer(ctx context.Context, destination string, amount decimal.Decimal) (TransferResult, error)
}
