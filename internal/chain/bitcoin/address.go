package bitcoin

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// mainnet P2PKH version byte.
const p2pkhVersion = 0x00

// AddressFromPrivateKeyHex derives the legacy P2PKH address for the
// compressed public key of a raw secp256k1 private key.
func AddressFromPrivateKeyHex(privHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	compressed := crypto.CompressPubkey(&key.PublicKey)
	return addressFromCompressedPubkey(compressed), nil
}

func addressFromCompressedPubkey(pubkey []byte) string {
	sha := sha256.Sum256(pubkey)

	rip := ripemd160.New()
	rip.Write(sha[:])
	hash160 := rip.Sum(nil)

	payload := append([]byte{p2pkhVersion}, hash160...)
	return base58CheckEncode(payload)
}

// base58CheckEncode appends the 4-byte double-SHA256 checksum and encodes.
func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])

	full := make([]byte, 0, len(payload)+4)
	full = append(full, payload...)
	full = append(full, second[:4]...)

	return base58.Encode(full)
}
