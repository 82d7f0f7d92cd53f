package solana

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
)

// Instruction describes an Anchor-style program instruction taking a single
// u64 amount. It implements swap.CallDescriptor.
type Instruction struct {
	name string
}

func NewInstruction(name string) (*Instruction, error) {
	if name == "" {
		return nil, fmt.Errorf("instruction name is required")
	}
	return &Instruction{name: name}, nil
}

func (i *Instruction) Name() string {
	return i.name
}

// Discriminator is the first 8 bytes of sha256("global:<name>").
func (i *Instruction) Discriminator() [8]byte {
	sum := sha256.Sum256([]byte("global:" + i.name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Encode returns the discriminator followed by the little-endian u64 amount.
func (i *Instruction) Encode(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes 1 argument, got %d", i.name, len(args))
	}

	var amount uint64
	switch v := args[0].(type) {
	case *big.Int:
		if v == nil || v.Sign() < 0 || !v.IsUint64() {
			return nil, fmt.Errorf("%s: amount %v does not fit in u64", i.name, v)
		}
		amount = v.Uint64()
	case uint64:
		amount = v
	default:
		return nil, fmt.Errorf("%s: unsupported amount type %T", i.name, v)
	}

	d := i.Discriminator()
	data := make([]byte, 0, 16)
	data = append(data, d[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	return data, nil
}
