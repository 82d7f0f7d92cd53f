package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a connected signing account on one chain. It implements
// swap.Session.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewWallet builds a wallet from a hex private key (with or without 0x).
func NewWallet(privHex string, chainID *big.Int) (*Wallet, error) {
	h := strings.TrimPrefix(strings.TrimSpace(privHex), "0x")
	if h == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Connect builds a wallet and resolves its chain id from the node.
func Connect(ctx context.Context, rpc RPCClient, privHex string) (*Wallet, error) {
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return NewWallet(privHex, chainID)
}

func (w *Wallet) ChainID() (swap.ChainID, bool) {
	if w == nil || w.chainID == nil {
		return "", false
	}
	return swap.ChainID(w.chainID.String()), true
}

func (w *Wallet) Address() string {
	if w == nil {
		return ""
	}
	return w.address.Hex()
}
