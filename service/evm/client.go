package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/capfriends/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrReceiptTimeout is returned by Confirm when no receipt shows up in time.
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

	// ErrReverted is returned by Confirm when the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
)

// RPCClient is the subset of the Ethereum JSON-RPC API the backend uses.
// *ethclient.Client satisfies it; tests use an in-memory fake.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (RPCClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return c, nil
}

// Config configures a Client.
type Config struct {
	// Chain labels metrics and logs (e.g. "base", "sepolia").
	Chain string

	// Wallet signs submissions. Simulation and token reads work without one.
	Wallet *Wallet

	// PollInterval between receipt lookups. Defaults to 2s.
	PollInterval time.Duration

	// Timeout bounds Confirm. Defaults to 2m.
	Timeout time.Duration

	// GasBufferPct is added on top of the gas estimate. Zero submits the
	// estimate as is.
	GasBufferPct uint64
}

// Client implements the swap Simulator, Submitter and Confirmer against an
// EVM chain.
type Client struct {
	rpc     RPCClient
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new EVM client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Chain == "" {
		cfg.Chain = "evm"
	}
	return &Client{
		rpc:     rpcClient,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// observe records an RPC call's outcome.
func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(c.cfg.Chain, method, status, time.Since(start).Seconds())
}

func (c *Client) callContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	start := time.Now()
	out, err := c.rpc.CallContract(ctx, msg, nil)
	c.observe("eth_call", start, err)
	return out, err
}

func (c *Client) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := c.rpc.EstimateGas(ctx, msg)
	c.observe("eth_estimateGas", start, err)
	return gas, err
}
