// Package backend assembles the chain-specific swap collaborators from
// configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/evm"
	"github.com/brojonat/capfriends/service/metrics"
	"github.com/brojonat/capfriends/service/solana"
	"github.com/brojonat/capfriends/service/swap"
)

// Backend is the set of collaborators for one chain family.
type Backend struct {
	Chain string

	Codec     swap.AddressCodec
	Call      swap.CallDescriptor
	Session   swap.Session // nil when no wallet key is configured
	Simulator swap.Simulator
	Submitter swap.Submitter
	Confirmer swap.Confirmer

	// Tokens reads ERC-20 metadata. It is nil on Solana.
	Tokens *evm.Client

	closers []func()
}

// New connects to the configured chain and builds its collaborators.
// If metrics is nil, no metrics will be recorded.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Backend, error) {
	switch cfg.Chain {
	case config.ChainEVM:
		return newEVM(ctx, cfg, m, logger)
	case config.ChainSolana:
		return newSolana(cfg, m, logger)
	default:
		return nil, fmt.Errorf("unsupported chain %q", cfg.Chain)
	}
}

func newEVM(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Backend, error) {
	rpc, err := evm.Dial(ctx, cfg.EVMRPCURL)
	if err != nil {
		return nil, err
	}
	b := &Backend{Chain: config.ChainEVM, Codec: evm.Codec{}}
	if c, ok := rpc.(interface{ Close() }); ok {
		b.closers = append(b.closers, c.Close)
	}
	logger.Info("connected to evm rpc", "endpoint", EndpointLabel(cfg.EVMRPCURL))

	method, err := evm.LoadMethod(cfg.SwapABIPath, cfg.SwapFunction)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("load swap method: %w", err)
	}
	b.Call = method

	var wallet *evm.Wallet
	if cfg.CanSubmit() {
		wallet, err = evm.Connect(ctx, rpc, cfg.WalletPrivateKey)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect wallet: %w", err)
		}
		b.Session = wallet
		chainID, _ := wallet.ChainID()
		logger.Info("wallet connected", "address", wallet.Address(), "chain_id", chainID)
	} else {
		logger.Warn("no wallet key configured, submissions will be rejected")
	}

	client := evm.NewClient(rpc, evm.Config{
		Chain:        cfg.Network,
		Wallet:       wallet,
		PollInterval: cfg.ConfirmationPollInterval,
		Timeout:      cfg.ConfirmationTimeout,
		GasBufferPct: uint64(cfg.GasBufferPct),
	}, m, logger)

	b.Simulator = client
	b.Submitter = client
	b.Confirmer = client
	b.Tokens = client
	return b, nil
}

func newSolana(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Backend, error) {
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		return nil, err
	}
	logger.Info("selected solana rpc endpoint",
		"endpoint", EndpointLabel(endpoint),
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	instruction, err := solana.NewInstruction(cfg.SwapFunction)
	if err != nil {
		return nil, fmt.Errorf("build swap instruction: %w", err)
	}
	b := &Backend{Chain: config.ChainSolana, Codec: solana.Codec{}, Call: instruction}

	var wallet *solana.Wallet
	if cfg.CanSubmit() {
		wallet, err = solana.NewWallet(cfg.WalletPrivateKey, cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("connect wallet: %w", err)
		}
		b.Session = wallet
		logger.Info("wallet connected", "address", wallet.Address(), "cluster", cfg.Network)
	} else {
		logger.Warn("no wallet key configured, submissions will be rejected")
	}

	clientCfg := solana.Config{
		Cluster:      cfg.Network,
		Wallet:       wallet,
		PollInterval: cfg.ConfirmationPollInterval,
		Timeout:      cfg.ConfirmationTimeout,
	}
	if cfg.SolanaSimulationPayer != "" {
		clientCfg.SimulationPayer, err = solana.ParsePublicKey(cfg.SolanaSimulationPayer)
		if err != nil {
			return nil, fmt.Errorf("SOLANA_SIMULATION_PAYER: %w", err)
		}
	}
	client := solana.NewClient(solana.NewRPCClient(endpoint), clientCfg, m, logger)

	b.Simulator = client
	b.Submitter = client
	b.Confirmer = client
	return b, nil
}

// SwapConfig returns an orchestrator config wired to the backend.
// Callers add observers, metrics and logger, and may replace the Confirmer.
func (b *Backend) SwapConfig() swap.Config {
	return swap.Config{
		Session:   b.Session,
		Codec:     b.Codec,
		Call:      b.Call,
		Simulator: b.Simulator,
		Submitter: b.Submitter,
		Confirmer: b.Confirmer,
	}
}

// Close releases the RPC connections.
func (b *Backend) Close() {
	for _, c := range b.closers {
		c()
	}
}

// EndpointLabel extracts a short identifier from an RPC URL for logs.
// It never includes the path or query, which often carry API keys.
// Examples:
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://base-mainnet.g.alchemy.com/v2/KEY" -> "alchemy"
//   - "https://api.devnet.solana.com" -> "devnet"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()
	for _, provider := range []string{"helius", "alchemy", "infura", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	if strings.Contains(host, "quiknode") || strings.Contains(host, "quicknode") {
		return "quiknode"
	}
	for _, network := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, network) {
			return network
		}
	}
	return host
}
