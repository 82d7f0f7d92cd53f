package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Codec normalizes base58 public keys.
type Codec struct{}

func (Codec) Normalize(raw string) (string, error) {
	pk, err := ParsePublicKey(raw)
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}

// ParsePublicKey decodes a base58 public key.
func ParsePublicKey(raw string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid public key %q: %w", raw, err)
	}
	return pk, nil
}

// Zero returns the system program id, the all-zero public key.
func (Codec) Zero() string {
	return solana.PublicKey{}.String()
}
