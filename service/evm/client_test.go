package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRPC is an in-memory RPCClient.
type fakeRPC struct {
	mu sync.Mutex

	chainID   *big.Int
	callFn    func(msg ethereum.CallMsg) ([]byte, error)
	gas       uint64
	gasErr    error
	nonce     uint64
	baseFee   *big.Int
	tip       *big.Int
	sendErr   error
	sent      []*types.Transaction
	receipts  []receiptReply
	lookups   int
	estimated int
}

type receiptReply struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeRPC) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callFn == nil {
		return nil, nil
	}
	return f.callFn(msg)
}

func (f *fakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated++
	return f.gas, f.gasErr
}

func (f *fakeRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeRPC) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: f.baseFee}, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

// TransactionReceipt replays receipts in order and repeats the last one.
func (f *fakeRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	i := f.lookups
	if i >= len(f.receipts) {
		i = len(f.receipts) - 1
	}
	f.lookups++
	return f.receipts[i].receipt, f.receipts[i].err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKey(t *testing.T) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

func buyMethod(t *testing.T) *Method {
	t.Helper()
	m, err := NewMethod(strings.NewReader(DefaultSwapABI), "buyToken")
	require.NoError(t, err)
	return m
}

const targetAddr = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestCodec(t *testing.T) {
	c := Codec{}

	got, err := c.Normalize("0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)
	assert.Equal(t, targetAddr, got)

	_, err = c.Normalize("0x1234")
	assert.Error(t, err)
	_, err = c.Normalize("not-hex")
	assert.Error(t, err)

	assert.Equal(t, "0x0000000000000000000000000000000000000000", c.Zero())
}

func TestNewMethod(t *testing.T) {
	m := buyMethod(t)
	assert.Equal(t, "buyToken", m.Name())

	data, err := m.Encode(big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, data, 4+32)
	assert.Equal(t, crypto.Keccak256([]byte("buyToken(uint256)"))[:4], data[:4])
	assert.Equal(t, 0, new(big.Int).SetBytes(data[4:]).Cmp(big.NewInt(100)))

	_, err = NewMethod(strings.NewReader(DefaultSwapABI), "sellToken")
	assert.ErrorContains(t, err, `no method "sellToken"`)

	_, err = LoadMethod("", "buyToken")
	assert.NoError(t, err)
}

func TestWallet(t *testing.T) {
	privHex, addr := testKey(t)
	rpc := &fakeRPC{chainID: big.NewInt(8453)}

	w, err := Connect(context.Background(), rpc, privHex)
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), w.Address())

	chainID, ok := w.ChainID()
	assert.True(t, ok)
	assert.Equal(t, swap.ChainID("8453"), chainID)

	var none *Wallet
	_, ok = none.ChainID()
	assert.False(t, ok)
	assert.Empty(t, none.Address())

	_, err = NewWallet("", big.NewInt(1))
	assert.Error(t, err)
	_, err = NewWallet("0xzz", big.NewInt(1))
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	var seen ethereum.CallMsg
	rpc := &fakeRPC{
		gas: 50000,
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			seen = msg
			return []byte{0xde, 0xad}, nil
		},
	}
	c := NewClient(rpc, Config{Chain: "base"}, nil, testLogger())

	out, err := c.Simulate(context.Background(), swap.Call{
		Target:     swap.Target{Address: targetAddr},
		From:       "0x0000000000000000000000000000000000000001",
		Descriptor: buyMethod(t),
		Args:       []any{big.NewInt(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, out.ReturnData)
	assert.Equal(t, uint64(50000), out.GasLimit)
	assert.Equal(t, common.HexToAddress(targetAddr), *seen.To)
	assert.Equal(t, common.HexToAddress("0x1"), seen.From)
}

func TestSimulate_Revert(t *testing.T) {
	rpc := &fakeRPC{
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			return nil, errors.New("execution reverted: sale closed")
		},
	}
	c := NewClient(rpc, Config{}, nil, testLogger())

	_, err := c.Simulate(context.Background(), swap.Call{
		Target:     swap.Target{Address: targetAddr},
		Descriptor: buyMethod(t),
		Args:       []any{big.NewInt(7)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sale closed")
}

func TestSubmit(t *testing.T) {
	privHex, addr := testKey(t)
	w, err := NewWallet(privHex, big.NewInt(8453))
	require.NoError(t, err)

	rpc := &fakeRPC{
		gas:     99999,
		nonce:   3,
		baseFee: big.NewInt(100),
		tip:     big.NewInt(5),
	}
	c := NewClient(rpc, Config{Wallet: w, GasBufferPct: 20}, nil, testLogger())

	call := swap.Call{
		Target:     swap.Target{Address: targetAddr},
		From:       w.Address(),
		Descriptor: buyMethod(t),
		Args:       []any{big.NewInt(100)},
	}

	t.Run("reuses prepared gas limit", func(t *testing.T) {
		handle, err := c.Submit(context.Background(), call, &swap.SimulationOutput{GasLimit: 21000})
		require.NoError(t, err)

		require.Len(t, rpc.sent, 1)
		tx := rpc.sent[0]
		assert.Equal(t, tx.Hash().Hex(), handle)
		assert.Equal(t, uint64(25200), tx.Gas())
		assert.Equal(t, uint64(3), tx.Nonce())
		assert.Equal(t, common.HexToAddress(targetAddr), *tx.To())
		assert.Equal(t, 0, tx.GasFeeCap().Cmp(big.NewInt(205)))
		assert.Equal(t, 0, tx.GasTipCap().Cmp(big.NewInt(5)))
		assert.Zero(t, rpc.estimated)

		data, err := call.Descriptor.Encode(call.Args...)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, tx.Data()))

		sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
		require.NoError(t, err)
		assert.Equal(t, addr, sender)
	})

	t.Run("estimates without prepared output", func(t *testing.T) {
		_, err := c.Submit(context.Background(), call, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, rpc.estimated)
		assert.Equal(t, uint64(119998), rpc.sent[len(rpc.sent)-1].Gas())
	})

	t.Run("rejected by node", func(t *testing.T) {
		rpc.sendErr = errors.New("insufficient funds for gas * price + value")
		defer func() { rpc.sendErr = nil }()

		_, err := c.Submit(context.Background(), call, nil)
		assert.ErrorContains(t, err, "insufficient funds")
	})
}

func TestSubmit_ZeroGasBuffer(t *testing.T) {
	privHex, _ := testKey(t)
	w, err := NewWallet(privHex, big.NewInt(8453))
	require.NoError(t, err)

	rpc := &fakeRPC{gas: 99999, baseFee: big.NewInt(100), tip: big.NewInt(5)}
	c := NewClient(rpc, Config{Wallet: w, GasBufferPct: 0}, nil, testLogger())

	call := swap.Call{
		Target:     swap.Target{Address: targetAddr},
		From:       w.Address(),
		Descriptor: buyMethod(t),
		Args:       []any{big.NewInt(100)},
	}

	_, err = c.Submit(context.Background(), call, &swap.SimulationOutput{GasLimit: 21000})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), call, nil)
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	assert.Equal(t, uint64(21000), rpc.sent[0].Gas())
	assert.Equal(t, uint64(99999), rpc.sent[1].Gas())
}

func TestSubmit_NoWallet(t *testing.T) {
	c := NewClient(&fakeRPC{}, Config{}, nil, testLogger())
	_, err := c.Submit(context.Background(), swap.Call{
		Target:     swap.Target{Address: targetAddr},
		Descriptor: buyMethod(t),
		Args:       []any{big.NewInt(1)},
	}, nil)
	assert.ErrorIs(t, err, swap.ErrNoSession)
}

func TestConfirm(t *testing.T) {
	handle := common.HexToHash("0xabc123").Hex()

	t.Run("pending then mined", func(t *testing.T) {
		rpc := &fakeRPC{receipts: []receiptReply{
			{err: ethereum.NotFound},
			{err: errors.New("connection reset")},
			{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(77), GasUsed: 30000}},
		}}
		c := NewClient(rpc, Config{PollInterval: time.Millisecond, Timeout: time.Second}, nil, testLogger())

		receipt, err := c.Confirm(context.Background(), handle, swap.ConfirmOptions{SuccessMessage: "Successfully swapped"})
		require.NoError(t, err)
		assert.Equal(t, handle, receipt.Handle)
		assert.Equal(t, uint64(77), receipt.Block)
		assert.Equal(t, uint64(30000), receipt.GasUsed)
		assert.Equal(t, 3, rpc.lookups)
	})

	t.Run("reverted", func(t *testing.T) {
		rpc := &fakeRPC{receipts: []receiptReply{
			{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(78)}},
		}}
		c := NewClient(rpc, Config{PollInterval: time.Millisecond, Timeout: time.Second}, nil, testLogger())

		_, err := c.Confirm(context.Background(), handle, swap.ConfirmOptions{})
		assert.ErrorIs(t, err, ErrReverted)
	})

	t.Run("timeout", func(t *testing.T) {
		rpc := &fakeRPC{}
		c := NewClient(rpc, Config{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}, nil, testLogger())

		_, err := c.Confirm(context.Background(), handle, swap.ConfirmOptions{})
		assert.ErrorIs(t, err, ErrReceiptTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		rpc := &fakeRPC{}
		c := NewClient(rpc, Config{PollInterval: time.Millisecond, Timeout: time.Minute}, nil, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Confirm(ctx, handle, swap.ConfirmOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid handle", func(t *testing.T) {
		c := NewClient(&fakeRPC{}, Config{}, nil, testLogger())
		_, err := c.Confirm(context.Background(), "", swap.ConfirmOptions{})
		assert.Error(t, err)
	})
}

func TestTokenDetails(t *testing.T) {
	replies := map[string][]any{
		"name":        {"Capital Friends"},
		"symbol":      {"CAPF"},
		"decimals":    {uint8(18)},
		"totalSupply": {big.NewInt(1_000_000)},
	}
	rpc := &fakeRPC{
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			for name, values := range replies {
				m := erc20ABI.Methods[name]
				if bytes.Equal(msg.Data[:4], m.ID) {
					return m.Outputs.Pack(values...)
				}
			}
			return nil, errors.New("execution reverted")
		},
	}
	c := NewClient(rpc, Config{}, nil, testLogger())

	details, err := c.TokenDetails(context.Background(), strings.ToLower(targetAddr))
	require.NoError(t, err)
	assert.Equal(t, targetAddr, details.Address)
	assert.Equal(t, "Capital Friends", details.Name)
	assert.Equal(t, "CAPF", details.Symbol)
	assert.Equal(t, uint8(18), details.Decimals)
	assert.Equal(t, 0, details.TotalSupply.Cmp(big.NewInt(1_000_000)))

	_, err = c.TokenDetails(context.Background(), "nope")
	assert.Error(t, err)
}
