package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Constructor builds an adapter for one currency. Construction fails when
// credentials are missing or malformed; the registry tolerates that by
// leaving the currency unregistered.
type Constructor func() (Adapter, error)

// Registry holds one adapter per currency. It is built once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry constructs adapters from the given constructor set. A
// constructor error skips that currency rather than failing the registry;
// later lookups return ErrUnsupportedCurrency for it.
func NewRegistry(constructors map[string]Constructor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adapter-registry")

	adapters := make(map[string]Adapter, len(constructors))
	for currency, build := range constructors {
		a, err := build()
		if err != nil {
			logger.Warn("adapter construction failed, currency unregistered",
				"currency", currency,
				"error", err,
			)
			continue
		}
		adapters[currency] = a
		logger.Info("registered ledger adapter", "currency", currency)
	}

	return &Registry{adapters: adapters, logger: logger}
}

// NewRegistryFromAdapters wires pre-built adapters. Used by tests to inject
// fakes per currency.
func NewRegistryFromAdapters(logger *slog.Logger, adapters ...Adapter) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Currency()] = a
	}
	return &Registry{adapters: m, logger: logger.With("component", "adapter-registry")}
}

// Lookup returns the adapter for a currency.
func (r *Registry) Lookup(currency string) (Adapter, error) {
	a, ok := r.adapters[currency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return a, nil
}

// Currencies lists registered currencies in stable order.
func (r *Registry) Currencies() []string {
	out := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}

// BalanceResult is one currency's entry in a sweep. Err is set when the
// network query failed; Amount is then zero but the failure is distinguishable
// from a legitimately empty account.
type BalanceResult struct {
	Amount decimal.Decimal
	Err    error
}

// SweepBalances queries every adapter concurrently, bounding each query with
// perAdapterTimeout so one unreachable network cannot stall the rest.
func (r *Registry) SweepBalances(ctx context.Context, perAdapterTimeout time.Duration) map[string]BalanceResult {
	results := make(map[string]BalanceResult, len(r.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for currency, a := range r.adapters {
		wg.Add(1)
		go func(currency string, a Adapter) {
			defer wg.Done()

			qctx, cancel := context.WithTimeout(ctx, perAdapterTimeout)
			defer cancel()

			amount, err := a.Balance(qctx)
			if err != nil {
				r.logger.Warn("balance query failed", "currency", currency, "error", err)
				amount = decimal.Zero
			}

			mu.Lock()
			results[currency] = BalanceResult{Amount: amount, Err: err}
			mu.Unlock()
		}(currency, a)
	}

	wg.Wait()
	return results
}

// CredentialStatus validates every adapter's credentials concurrently and
// returns a per-currency validity map. Validation errors count as invalid.
func (r *Registry) CredentialStatus(ctx context.Context, perAdapterTimeout time.Duration) map[string]bool {
	results := make(map[string]bool, len(r.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for currency, a := range r.adapters {
		wg.Add(1)
		go func(currency string, a Adapter) {
			defer wg.Done()

			qctx, cancel := context.WithTimeout(ctx, perAdapterTimeout)
			defer cancel()

			ok, err := a.ValidateCredentials(qctx)
			if err != nil {
				r.logger.Warn("credential validation error", "currency", currency, "error", err)
				ok = false
			}

			mu.Lock()
			results[currency] = ok
			mu.Unlock()
		}(currency, a)
	}

	wg.Wait()
	return results
}
