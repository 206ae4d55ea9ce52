package solana

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestNewRequiresEndpointAndKey(t *testing.T) {
	wallet := solana.NewWallet()

	if _, err := New(Config{
		Currency:         "SOL",
		PrivateKeyBase58: wallet.PrivateKey.String(),
	}, nil); err == nil {
		t.Error("Expected error for missing endpoint")
	}

	if _, err := New(Config{
		Currency: "SOL",
		Endpoint: "https://api.devnet.solana.com",
	}, nil); err == nil {
		t.Error("Expected error for missing private key")
	}
}

func TestNewRejectsMalformedKey(t *testing.T) {
	_, err := New(Config{
		Currency:         "SOL",
		Endpoint:         "https://api.devnet.solana.com",
		PrivateKeyBase58: "!!not-base58!!",
	}, nil)
	if err == nil {
		t.Error("Expected error for malformed key")
	}
}

func TestValidateCredentials(t *testing.T) {
	wallet := solana.NewWallet()

	adapter, err := New(Config{
		Currency:         "SOL",
		Endpoint:         "https://api.devnet.solana.com",
		PrivateKeyBase58: wallet.PrivateKey.String(),
		PublicKeyBase58:  wallet.PublicKey().String(),
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ok, err := adapter.ValidateCredentials(context.Background())
	if err != nil {
		t.Fatalf("ValidateCredentials failed: %v", err)
	}
	if !ok {
		t.Error("Expected credentials to validate")
	}
}

func TestValidateCredentialsMismatch(t *testing.T) {
	wallet := solana.NewWallet()
	other := solana.NewWallet()

	adapter, err := New(Config{
		Currency:         "SOL",
		Endpoint:         "https://api.devnet.solana.com",
		PrivateKeyBase58: wallet.PrivateKey.String(),
		PublicKeyBase58:  other.PublicKey().String(),
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ok, err := adapter.ValidateCredentials(context.Background())
	if err != nil {
		t.Fatalf("ValidateCredentials failed: %v", err)
	}
	if ok {
		t.Error("Mismatched public key must not validate")
	}
}

func TestValidateCredentialsNoPublicKey(t *testing.T) {
	wallet := solana.NewWallet()

	adapter, err := New(Config{
		Currency:         "SOL",
		Endpoint:         "https://api.devnet.solana.com",
		PrivateKeyBase58: wallet.PrivateKey.String(),
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := adapter.ValidateCredentials(context.Background()); err == nil {
		t.Error("Expected error with no configured public key")
	}
}
