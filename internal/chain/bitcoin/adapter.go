// Package bitcoin implements the UTXO-family ledger adapter. It supports
// credential validation and balance queries; value transfers report
// chain.ErrNotSupported, which callers handle as a first-class outcome
// rather than omitting the adapter entirely.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
)

// satsPerCoin converts between BTC decimals and satoshis (1e8).
var satsPerCoin = decimal.New(1, 8)

// Config describes the Bitcoin connection. Endpoint is an Esplora-style
// REST base URL; PrivateKeyHex is the raw 32-byte signing key in hex.
type Config struct {
	Currency      string
	Endpoint      string
	PrivateKeyHex string
	PublicAddress string

	HTTPTimeout time.Duration
}

// Adapter queries an Esplora REST index for balances and derives P2PKH
// addresses locally for credential checks.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client
}

// New validates the configuration and returns an adapter.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("bitcoin: endpoint is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("bitcoin: private key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}

	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "bitcoin-adapter"),
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (a *Adapter) Currency() string {
	return a.cfg.Currency
}

// ValidateCredentials derives the compressed-key P2PKH address from the held
// private key and compares it to the configured address.
func (a *Adapter) ValidateCredentials(_ context.Context) (bool, error) {
	if a.cfg.PublicAddress == "" {
		return false, fmt.Errorf("no public address configured")
	}

	derived, err := AddressFromPrivateKeyHex(a.cfg.PrivateKeyHex)
	if err != nil {
		return false, fmt.Errorf("derive address: %w", err)
	}

	return derived == a.cfg.PublicAddress, nil
}

// esplora address response; only the confirmed chain stats are read.
type addressStats struct {
	ChainStats struct {
		FundedTxoSum uint64 `json:"funded_txo_sum"`
		SpentTxoSum  uint64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

// Balance returns the confirmed spendable balance in BTC.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/address/%s", strings.TrimRight(a.cfg.Endpoint, "/"), a.cfg.PublicAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("address query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("address query: unexpected status %d", resp.StatusCode)
	}

	var stats addressStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return decimal.Zero, fmt.Errorf("decode address stats: %w", err)
	}

	if stats.ChainStats.SpentTxoSum > stats.ChainStats.FundedTxoSum {
		return decimal.Zero, fmt.Errorf("inconsistent address stats: spent exceeds funded")
	}

	sats := new(big.Int).SetUint64(stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum)
	return decimal.NewFromBigInt(sats, -8), nil
}

// Transfer is not implemented for the UTXO family yet. UTXO selection and
// change handling need a coin-selection pass this adapter does not carry;
// credential and balance checks remain meaningful without it.
func (a *Adapter) Transfer(_ context.Context, _ string, _ decimal.Decimal) (chain.TransferResult, error) {
	return chain.TransferResult{}, fmt.Errorf("bitcoin transfer: %w", chain.ErrNotSupported)
}

var _ chain.Adapter = (*Adapter)(nil)
