package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/capfriends/service/backend"
	"github.com/brojonat/capfriends/service/config"
	"github.com/urfave/cli/v2"
)

// loadBackend loads the environment configuration and connects to the
// configured chain. The caller must Close the backend.
func loadBackend(c *cli.Context) (*config.Config, *backend.Backend, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(c.String("log-level"))

	b, err := backend.New(c.Context, cfg, nil, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to %s: %w", cfg.Chain, err)
	}
	return cfg, b, logger, nil
}

func walletConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect the configured wallet and show its address",
		Description: `Derives the account from WALLET_PRIVATE_KEY and resolves its chain id.

Example:
  CHAIN=evm EVM_RPC_URL=https://mainnet.base.org WALLET_PRIVATE_KEY=0x... capfriends wallet connect`,
		Action: func(c *cli.Context) error {
			cfg, b, _, err := loadBackend(c)
			if err != nil {
				return err
			}
			defer b.Close()

			if b.Session == nil {
				return fmt.Errorf("no wallet configured: set WALLET_PRIVATE_KEY")
			}
			chainID, _ := b.Session.ChainID()

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]string{
					"address":  b.Session.Address(),
					"chain_id": string(chainID),
					"chain":    cfg.Chain,
					"network":  cfg.Network,
				})
			}

			fmt.Fprintf(c.App.Writer, "✓ Wallet connected\n")
			fmt.Fprintf(c.App.Writer, "  Address:  %s\n", b.Session.Address())
			fmt.Fprintf(c.App.Writer, "  Chain ID: %s\n", chainID)
			fmt.Fprintf(c.App.Writer, "  Network:  %s (%s)\n", cfg.Network, cfg.Chain)
			return nil
		},
	}
}

func tokenShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show ERC-20 token details",
		ArgsUsage: "TOKEN_ADDRESS",
		Description: `Reads name, symbol, decimals and total supply from the token contract.

Use --jq to filter the JSON output:
  capfriends token show 0x... --jq '.symbol'
  capfriends token show 0x... --jq '.decimals == 18'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the token JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("token address is required")
			}

			filter := c.String("jq")

			_, b, _, err := loadBackend(c)
			if err != nil {
				return err
			}
			defer b.Close()

			if b.Tokens == nil {
				return fmt.Errorf("token details are only available on evm chains")
			}

			address, err := b.Codec.Normalize(c.Args().Get(0))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, rpcTimeout)
			defer cancel()
			token, err := b.Tokens.TokenDetails(ctx, address)
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}

			if filter != "" {
				code, err := compileJQ(filter)
				if err != nil {
					return err
				}
				results, err := runJQ(code, token)
				if err != nil {
					return err
				}
				for _, r := range results {
					if err := printJSON(c.App.Writer, r); err != nil {
						return err
					}
				}
				return nil
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, token)
			}

			fmt.Fprintf(c.App.Writer, "Token:        %s (%s)\n", token.Name, token.Symbol)
			fmt.Fprintf(c.App.Writer, "Address:      %s\n", token.Address)
			fmt.Fprintf(c.App.Writer, "Decimals:     %d\n", token.Decimals)
			fmt.Fprintf(c.App.Writer, "Total Supply: %s\n", token.TotalSupply)
			return nil
		},
	}
}
