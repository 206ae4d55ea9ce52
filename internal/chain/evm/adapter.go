// Package evm implements the ledger adapter for EVM-family networks
// (Ethereum, Polygon, Base). One instance per configured chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
)

const (
	transferGasLimit   = 21000
	receiptPollBackoff = 2 * time.Second
)

// weiPerCoin converts between native-coin decimals and wei (1e18).
var weiPerCoin = decimal.New(1, 18)

// Config describes one EVM chain. PrivateKeyHex comes from the process
// environment; there is no HSM/KMS boundary here, which is a known custody
// gap inherited from the deployment model.
type Config struct {
	Currency      string
	Endpoint      string
	ChainID       uint64
	PrivateKeyHex string
	PublicAddress string

	DialTimeout time.Duration
}

// Adapter holds a dialed client and the signing key for one chain.
// Transfers serialize on an internal mutex so pending-nonce reads do not
// race each other.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	key     *ecdsa.PrivateKey
	address common.Address

	dialMu sync.Mutex
	dialFn func(ctx context.Context) (*ethclient.Client, error)
	client *ethclient.Client

	transferMu sync.Mutex
}

// New validates the configured key material and returns an adapter. The RPC
// connection is dialed lazily on first use.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("evm %s: endpoint is required", cfg.Currency)
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("evm %s: private key is required", cfg.Currency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm %s: parse private key: %w", cfg.Currency, err)
	}

	return &Adapter{
		cfg:     cfg,
		logger:  logger.With("component", "evm-adapter", "currency", cfg.Currency),
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		dialFn: func(ctx context.Context) (*ethclient.Client, error) {
			return ethclient.DialContext(ctx, cfg.Endpoint)
		},
	}, nil
}

func (a *Adapter) Currency() string {
	return a.cfg.Currency
}

// ValidateCredentials derives the address from the held key and compares it
// against the configured public address. Mismatch is false, not an error.
func (a *Adapter) ValidateCredentials(_ context.Context) (bool, error) {
	if a.cfg.PublicAddress == "" {
		return false, fmt.Errorf("no public address configured")
	}
	if !common.IsHexAddress(a.cfg.PublicAddress) {
		return false, fmt.Errorf("malformed public address: %s", a.cfg.PublicAddress)
	}

	configured := common.HexToAddress(a.cfg.PublicAddress)
	return configured == a.address, nil
}

// dial returns the connected client, dialing on first use. A failed dial is
// not latched; the next call attempts it again, so a transient RPC outage at
// startup does not disable the adapter for the process lifetime.
func (a *Adapter) dial(ctx context.Context) (*ethclient.Client, error) {
	a.dialMu.Lock()
	defer a.dialMu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	dctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	client, err := a.dialFn(dctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.cfg.Endpoint, err)
	}

	chainID, err := client.ChainID(dctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Uint64() != a.cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", a.cfg.ChainID, chainID.Uint64())
	}

	a.client = client
	a.logger.Info("connected to RPC", "endpoint", a.cfg.Endpoint, "chain_id", chainID)
	return a.client, nil
}

// Balance returns the spendable native-coin balance. Network failure returns
// zero plus the error.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	client, err := a.dial(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	wei, err := client.BalanceAt(ctx, a.address, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance query: %w", err)
	}

	return decimal.NewFromBigInt(wei, -18), nil
}

// Transfer signs and submits a native-coin transfer and waits for the
// receipt. The caller bounds the wait with its context.
func (a *Adapter) Transfer(ctx context.Context, destination string, amount decimal.Decimal) (chain.TransferResult, error) {
	if !common.IsHexAddress(destination) {
		return chain.TransferResult{}, fmt.Errorf("invalid destination address: %s", destination)
	}
	if amount.Sign() <= 0 {
		return chain.TransferResult{}, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	client, err := a.dial(ctx)
	if err != nil {
		return chain.TransferResult{}, err
	}

	a.transferMu.Lock()
	defer a.transferMu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("suggest gas price: %w", err)
	}

	to := common.HexToAddress(destination)
	wei := amount.Mul(weiPerCoin).Truncate(0).BigInt()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    wei,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(a.cfg.ChainID)), a.key)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return chain.TransferResult{}, fmt.Errorf("send transaction: %w", err)
	}

	txHash := signed.Hash()
	a.logger.Info("transfer submitted",
		"tx", txHash.Hex(),
		"destination", to.Hex(),
		"amount", amount.String(),
	)

	if err := a.waitMined(ctx, client, txHash); err != nil {
		// Broadcast transactions are append-only facts; a confirmation
		// timeout does not undo the send, so surface the hash with the error.
		return chain.TransferResult{TxReference: txHash.Hex()}, err
	}

	return chain.TransferResult{TxReference: txHash.Hex()}, nil
}

func (a *Adapter) waitMined(ctx context.Context, client *ethclient.Client, txHash common.Hash) error {
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			a.logger.Info("transfer confirmed", "tx", txHash.Hex(), "block", receipt.BlockNumber)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-time.After(receiptPollBackoff):
		}
	}
}

// Close releases the RPC connection.
func (a *Adapter) Close() {
	a.dialMu.Lock()
	defer a.dialMu.Unlock()

	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
}

var _ chain.Adapter = (*Adapter)(nil)
