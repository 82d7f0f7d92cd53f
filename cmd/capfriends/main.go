package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "capfriends",
		Usage: "Token swap CLI",
		Description: `A command-line tool for buying tokens through a swap contract.

Local commands (wallet, token, swap) talk to the chain directly using the same
environment configuration as the server. The client commands drive a running
capfriends server over HTTP.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "wallet",
				Usage: "Wallet session commands",
				Subcommands: []*cli.Command{
					walletConnectCommand(),
				},
			},
			{
				Name:  "token",
				Usage: "Token inspection commands",
				Subcommands: []*cli.Command{
					tokenShowCommand(),
				},
			},
			{
				Name:  "swap",
				Usage: "Simulate and submit swaps from this machine",
				Subcommands: []*cli.Command{
					swapSimulateCommand(),
					swapBuyCommand(),
				},
			},
			// Client commands (HTTP API)
			clientCommands(),
			// NATS swap event streaming commands
			{
				Name:  "nats",
				Usage: "NATS swap event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "capfriends server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "api-token",
				Usage:   "Bearer token for the server's swap routes",
				EnvVars: []string{"API_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for local commands (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
