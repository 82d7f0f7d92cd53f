package evm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultSwapABI describes a single payable buyToken(uint256) function.
// Deployments with a different interface load their ABI from a file.
const DefaultSwapABI = `[{"inputs":[{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"buyToken","outputs":[],"stateMutability":"payable","type":"function"}]`

// Method is one contract function of a parsed ABI. It implements
// swap.CallDescriptor.
type Method struct {
	abi  abi.ABI
	name string
}

// NewMethod parses an ABI and selects the function called name.
func NewMethod(r io.Reader, name string) (*Method, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if _, ok := parsed.Methods[name]; !ok {
		return nil, fmt.Errorf("abi has no method %q", name)
	}
	return &Method{abi: parsed, name: name}, nil
}

// LoadMethod reads the ABI at path, or DefaultSwapABI when path is empty.
func LoadMethod(path, name string) (*Method, error) {
	if path == "" {
		return NewMethod(strings.NewReader(DefaultSwapABI), name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open abi: %w", err)
	}
	defer f.Close()
	return NewMethod(f, name)
}

func (m *Method) Name() string {
	return m.name
}

// Encode packs the selector and arguments into call data.
func (m *Method) Encode(args ...any) ([]byte, error) {
	data, err := m.abi.Pack(m.name, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.name, err)
	}
	return data, nil
}
