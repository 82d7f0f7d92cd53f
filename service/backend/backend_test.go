package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://mainnet.helius-rpc.com/?api-key=secret", "helius"},
		{"https://base-mainnet.g.alchemy.com/v2/secret", "alchemy"},
		{"https://some-endpoint.quiknode.pro/secret/", "quiknode"},
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"http://localhost:8545", "localhost"},
		{"://bad", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, EndpointLabel(tt.url))
		})
	}
}

func TestNew_Solana(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Chain:         config.ChainSolana,
		Network:       "devnet",
		SolanaRPCURLs: []string{"https://api.devnet.solana.com"},
		SwapFunction:  "buy_token",

		SolanaSimulationPayer: "11111111111111111111111111111112",
	}

	b, err := New(context.Background(), cfg, nil, logger)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.ChainSolana, b.Chain)
	assert.Nil(t, b.Session)
	assert.Nil(t, b.Tokens)
	assert.IsType(t, solana.Codec{}, b.Codec)
	assert.Equal(t, "buy_token", b.Call.Name())

	swapCfg := b.SwapConfig()
	assert.NotNil(t, swapCfg.Simulator)
	assert.NotNil(t, swapCfg.Submitter)
	assert.NotNil(t, swapCfg.Confirmer)
}

func TestNew_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("unsupported chain", func(t *testing.T) {
		_, err := New(context.Background(), &config.Config{Chain: "cosmos"}, nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported chain")
	})

	t.Run("solana without endpoints", func(t *testing.T) {
		_, err := New(context.Background(), &config.Config{Chain: config.ChainSolana, SwapFunction: "buy_token"}, nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no RPC endpoints configured")
	})

	t.Run("solana bad simulation payer", func(t *testing.T) {
		_, err := New(context.Background(), &config.Config{
			Chain:                 config.ChainSolana,
			SolanaRPCURLs:         []string{"https://api.devnet.solana.com"},
			SwapFunction:          "buy_token",
			SolanaSimulationPayer: "not-a-key",
		}, nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SOLANA_SIMULATION_PAYER")
	})

	t.Run("solana bad key", func(t *testing.T) {
		_, err := New(context.Background(), &config.Config{
			Chain:            config.ChainSolana,
			SolanaRPCURLs:    []string{"https://api.devnet.solana.com"},
			SwapFunction:     "buy_token",
			WalletPrivateKey: "not-base58-0OIl",
		}, nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connect wallet")
	})
}
