package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Codec normalizes hex addresses to their EIP-55 checksummed form.
type Codec struct{}

// Normalize returns the checksummed form of raw.
func (Codec) Normalize(raw string) (string, error) {
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("invalid hex address %q", raw)
	}
	return common.HexToAddress(raw).Hex(), nil
}

// Zero returns 0x0000000000000000000000000000000000000000.
func (Codec) Zero() string {
	return common.Address{}.Hex()
}
