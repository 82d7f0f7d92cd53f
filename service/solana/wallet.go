package solana

import (
	"fmt"
	"strings"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/gagliardetto/solana-go"
)

// Wallet is a connected signing keypair on one cluster. It implements
// swap.Session.
type Wallet struct {
	key     solana.PrivateKey
	cluster string
}

// NewWallet parses a base58 private key.
func NewWallet(privBase58, cluster string) (*Wallet, error) {
	privBase58 = strings.TrimSpace(privBase58)
	if privBase58 == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := solana.PrivateKeyFromBase58(privBase58)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{key: key, cluster: cluster}, nil
}

func (w *Wallet) ChainID() (swap.ChainID, bool) {
	if w == nil || w.cluster == "" {
		return "", false
	}
	return swap.ChainID(w.cluster), true
}

func (w *Wallet) Address() string {
	if w == nil {
		return ""
	}
	return w.key.PublicKey().String()
}

func (w *Wallet) publicKey() solana.PublicKey {
	return w.key.PublicKey()
}
