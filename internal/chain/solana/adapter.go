// Package solana implements the ledger adapter for the Solana account model.
package solana

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
)

const confirmPollBackoff = 2 * time.Second

// lamportsPerSol converts between SOL decimals and lamports (1e9).
var lamportsPerSol = decimal.New(1, 9)

// Config describes the Solana connection. PrivateKeyBase58 is the full
// 64-byte keypair in base58, held in the process environment.
type Config struct {
	Currency         string
	Endpoint         string
	PrivateKeyBase58 string
	PublicKeyBase58  string
}

// Adapter wraps a JSON-RPC client plus the funding keypair. Transfers
// serialize internally: each one needs a fresh blockhash, and stale
// blockhashes are rejected by the cluster.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	client *rpc.Client
	key    solana.PrivateKey
	pub    solana.PublicKey

	transferMu sync.Mutex
}

// New parses the keypair and builds the RPC client.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("solana: endpoint is required")
	}
	if cfg.PrivateKeyBase58 == "" {
		return nil, fmt.Errorf("solana: private key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	key, err := solana.PrivateKeyFromBase58(cfg.PrivateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("solana: parse private key: %w", err)
	}

	return &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "solana-adapter"),
		client: rpc.New(cfg.Endpoint),
		key:    key,
		pub:    key.PublicKey(),
	}, nil
}

func (a *Adapter) Currency() string {
	return a.cfg.Currency
}

// ValidateCredentials derives the public key from the held keypair and
// compares it to the configured one.
func (a *Adapter) ValidateCredentials(_ context.Context) (bool, error) {
	if a.cfg.PublicKeyBase58 == "" {
		return false, fmt.Errorf("no public key configured")
	}

	configured, err := solana.PublicKeyFromBase58(a.cfg.PublicKeyBase58)
	if err != nil {
		return false, fmt.Errorf("malformed public key: %w", err)
	}

	return configured.Equals(a.pub), nil
}

// Balance returns the spendable balance in SOL.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	out, err := a.client.GetBalance(ctx, a.pub, rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance query: %w", err)
	}

	lamports := new(big.Int).SetUint64(out.Value)
	return decimal.NewFromBigInt(lamports, -9), nil
}

// Transfer builds a system-program transfer over a freshly fetched
// blockhash, signs it, submits it, and polls for confirmation.
func (a *Adapter) Transfer(ctx context.Context, destination string, amount decimal.Decimal) (chain.TransferResult, error) {
	recipient, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("invalid destination address: %w", err)
	}
	if amount.Sign() <= 0 {
		return chain.TransferResult{}, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	lamports := amount.Mul(lamportsPerSol).Truncate(0).BigInt().Uint64()

	a.transferMu.Lock()
	defer a.transferMu.Unlock()

	// A stale blockhash gets the transaction rejected, so fetch one
	// immediately before signing.
	recent, err := a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, a.pub, recipient).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(a.pub),
	)
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(a.pub) {
			return &a.key
		}
		return nil
	})
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := a.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return chain.TransferResult{}, fmt.Errorf("send transaction: %w", err)
	}

	a.logger.Info("transfer submitted",
		"signature", sig.String(),
		"destination", recipient.String(),
		"lamports", lamports,
	)

	if err := a.awaitConfirmation(ctx, sig); err != nil {
		// The transaction is already broadcast; report the signature
		// alongside the confirmation failure.
		return chain.TransferResult{TxReference: sig.String()}, err
	}

	return chain.TransferResult{TxReference: sig.String()}, nil
}

func (a *Adapter) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	for {
		statuses, err := a.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", sig, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				a.logger.Info("transfer confirmed", "signature", sig.String(), "status", st.ConfirmationStatus)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait for %s: %w", sig, ctx.Err())
		case <-time.After(confirmPollBackoff):
		}
	}
}

var _ chain.Adapter = (*Adapter)(nil)
