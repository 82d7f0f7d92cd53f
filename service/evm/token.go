package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20MetadataABI = `[
{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	erc20ABI = parsed
}

// TokenDetails is the ERC-20 metadata shown on a token page.
type TokenDetails struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply *big.Int `json:"total_supply"`
}

// TokenDetails reads name, symbol, decimals and total supply of the token
// at address.
func (c *Client) TokenDetails(ctx context.Context, address string) (*TokenDetails, error) {
	normalized, err := Codec{}.Normalize(address)
	if err != nil {
		return nil, err
	}
	token := common.HexToAddress(normalized)

	out := &TokenDetails{Address: normalized}
	if err := c.readToken(ctx, token, "name", &out.Name); err != nil {
		return nil, err
	}
	if err := c.readToken(ctx, token, "symbol", &out.Symbol); err != nil {
		return nil, err
	}
	if err := c.readToken(ctx, token, "decimals", &out.Decimals); err != nil {
		return nil, err
	}
	out.TotalSupply = new(big.Int)
	if err := c.readToken(ctx, token, "totalSupply", &out.TotalSupply); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) readToken(ctx context.Context, token common.Address, method string, dst any) error {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := c.callContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, token.Hex(), err)
	}
	if err := erc20ABI.UnpackIntoInterface(dst, method, ret); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}
