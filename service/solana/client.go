package solana

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/capfriends/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrConfirmationTimeout is returned by Confirm when the signature does
	// not reach the confirmed commitment in time.
	ErrConfirmationTimeout = errors.New("timed out waiting for signature confirmation")

	// ErrTransactionFailed is returned by Confirm when the transaction landed
	// with an error.
	ErrTransactionFailed = errors.New("transaction failed")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SimulateTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts *rpc.SimulateTransactionOpts,
	) (*rpc.SimulateTransactionResponse, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Config configures a Client.
type Config struct {
	// Cluster names the network ("mainnet", "devnet"). It is the chain id
	// reported by wallets and the metrics label.
	Cluster string

	Wallet *Wallet

	// SimulationPayer is the fee payer of simulations when no wallet is
	// configured. Simulations are unsigned, so any funded account works.
	SimulationPayer solana.PublicKey

	// PollInterval between signature status lookups. Defaults to 1s.
	PollInterval time.Duration

	// Timeout bounds Confirm. Defaults to 90s.
	Timeout time.Duration
}

// Client implements the swap Simulator, Submitter and Confirmer against a
// Solana program.
type Client struct {
	rpc     RPCClient
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Cluster == "" {
		cfg.Cluster = "mainnet"
	}
	return &Client{
		rpc:     rpcClient,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(c.cfg.Cluster, method, status, time.Since(start).Seconds())
}
