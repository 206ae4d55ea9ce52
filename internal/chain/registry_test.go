package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubAdapter struct {
	currency   string
	balance    decimal.Decimal
	balanceErr error
	credsOK    bool
	credsErr   error
	delay      time.Duration
}

func (s *stubAdapter) Currency() string { return s.currency }

func (s *stubAdapter) ValidateCredentials(ctx context.Context) (bool, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.credsOK, s.credsErr
}

func (s *stubAdapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	return s.balance, s.balanceErr
}

func (s *stubAdapter) Transfer(context.Context, string, decimal.Decimal) (TransferResult, error) {
	return TransferResult{}, ErrNotSupported
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistryFromAdapters(nil, &stubAdapter{currency: "ETH"})

	if _, err := reg.Lookup("ETH"); err != nil {
		t.Fatalf("Lookup(ETH) failed: %v", err)
	}

	_, err := reg.Lookup("DOGE")
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Errorf("Expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestRegistrySkipsFailedConstructors(t *testing.T) {
	reg := NewRegistry(map[string]Constructor{
		"ETH": func() (Adapter, error) { return &stubAdapter{currency: "ETH"}, nil },
		"SOL": func() (Adapter, error) { return nil, errors.New("missing key") },
	}, nil)

	if reg.Len() != 1 {
		t.Fatalf("Expected 1 adapter, got %d", reg.Len())
	}
	if _, err := reg.Lookup("SOL"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Errorf("Failed constructor must leave currency unregistered, got %v", err)
	}
}

func TestSweepBalances(t *testing.T) {
	reg := NewRegistryFromAdapters(nil,
		&stubAdapter{currency: "ETH", balance: decimal.RequireFromString("2.5")},
		&stubAdapter{currency: "SOL", balanceErr: errors.New("rpc down")},
	)

	results := reg.SweepBalances(context.Background(), time.Second)

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results["ETH"].Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Expected ETH balance 2.5, got %s", results["ETH"].Amount)
	}
	if results["ETH"].Err != nil {
		t.Errorf("Unexpected ETH error: %v", results["ETH"].Err)
	}
	if results["SOL"].Err == nil {
		t.Error("Expected SOL error to be preserved")
	}
	if !results["SOL"].Amount.IsZero() {
		t.Errorf("Failed query must report zero, got %s", results["SOL"].Amount)
	}
}

func TestSweepBalancesTimeoutIsolation(t *testing.T) {
	reg := NewRegistryFromAdapters(nil,
		&stubAdapter{currency: "ETH", balance: decimal.RequireFromString("1")},
		&stubAdapter{currency: "BTC", delay: 5 * time.Second},
	)

	start := time.Now()
	results := reg.SweepBalances(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("Sweep took %v; slow adapter must not stall the sweep", elapsed)
	}
	if results["ETH"].Err != nil {
		t.Errorf("Fast adapter must succeed, got %v", results["ETH"].Err)
	}
	if results["BTC"].Err == nil {
		t.Error("Slow adapter must time out")
	}
}

func TestCredentialStatus(t *testing.T) {
	reg := NewRegistryFromAdapters(nil,
		&stubAdapter{currency: "ETH", credsOK: true},
		&stubAdapter{currency: "SOL", credsOK: false},
		&stubAdapter{currency: "BTC", credsErr: errors.New("derive failed")},
	)

	status := reg.CredentialStatus(context.Background(), time.Second)

	if !status["ETH"] {
		t.Error("Expected ETH credentials valid")
	}
	if status["SOL"] {
		t.Error("Expected SOL credentials invalid")
	}
	if status["BTC"] {
		t.Error("Validation error must count as invalid")
	}
}

func TestCurrenciesStableOrder(t *testing.T) {
	reg := NewRegistryFromAdapters(nil,
		&stubAdapter{currency: "SOL"},
		&stubAdapter{currency: "BTC"},
		&stubAdapter{currency: "ETH"},
	)

	got := reg.Currencies()
	want := []string{"BTC", "ETH", "SOL"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}
