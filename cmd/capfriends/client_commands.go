package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brojonat/capfriends/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the capfriends server",
		Subcommands: []*cli.Command{
			clientCreateCommand(),
			clientSubmitCommand(),
			clientGetCommand(),
		},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	api := client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, newLogger(c.String("log-level")))
	api.SetToken(c.String("api-token"))
	return api
}

func clientCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a swap on the server",
		ArgsUsage: "TARGET_ADDRESS AMOUNT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-simulate",
				Usage: "Do not simulate the swap",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("target address and amount are required")
			}

			cl := newAPIClient(c, 30*time.Second)
			s, err := cl.CreateSwap(c.Context, c.Args().Get(0), c.Args().Get(1), !c.Bool("no-simulate"))
			if err != nil {
				return fmt.Errorf("failed to create swap: %w", err)
			}
			return printSwap(c, s)
		},
	}
}

func clientSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a swap and optionally wait for it to settle",
		ArgsUsage: "SWAP_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait until the submission is confirmed or fails",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait with --wait",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: 2 * time.Second,
				Usage: "How often to poll the swap with --wait",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("swap id is required")
			}
			id := c.Args().Get(0)

			cl := newAPIClient(c, 30*time.Second)
			s, err := cl.SubmitSwap(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to submit swap: %w", err)
			}

			if c.Bool("wait") {
				if !c.Bool("json") {
					fmt.Fprintf(c.App.ErrWriter, "Waiting for swap %s to settle...\n", id)
				}
				ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
				defer cancel()

				s, err = cl.WaitSwap(ctx, id, c.Duration("poll-interval"))
				if err != nil {
					return fmt.Errorf("failed waiting for swap: %w", err)
				}
			}
			return printSwap(c, s)
		},
	}
}

func clientGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the state of a swap",
		ArgsUsage: "SWAP_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("swap id is required")
			}

			cl := newAPIClient(c, 30*time.Second)
			s, err := cl.GetSwap(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get swap: %w", err)
			}
			return printSwap(c, s)
		},
	}
}

func printSwap(c *cli.Context, s *client.Swap) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, s)
	}
	printSwapDetailed(c.App.Writer, s)
	return nil
}

func printSwapDetailed(w io.Writer, s *client.Swap) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Swap:         %s\n", s.ID)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Target:       %s\n", s.Target)
	if s.ChainID != "" {
		fmt.Fprintf(w, "Chain ID:     %s\n", s.ChainID)
	}
	fmt.Fprintf(w, "Amount:       %s\n", s.Amount)
	fmt.Fprintf(w, "Stage:        %s\n", s.Stage)
	fmt.Fprintf(w, "Simulation:   %s\n", statusLine(s.Simulation.Status, s.Simulation.Error))
	fmt.Fprintf(w, "Submission:   %s\n", statusLine(s.Submission.Status, s.Submission.Error))
	if s.Submission.Handle != "" {
		fmt.Fprintf(w, "Handle:       %s\n", s.Submission.Handle)
	}
	fmt.Fprintf(w, "Confirmation: %s\n", statusLine(s.Confirmation.Status, s.Confirmation.Error))
	if s.Confirmation.Block > 0 {
		fmt.Fprintf(w, "Block:        %d\n", s.Confirmation.Block)
	}
	fmt.Fprintf(w, "In Flight:    %t\n", s.InFlight)
	fmt.Fprintf(w, "Callbacks:    %d\n", s.Fired)
}

func statusLine(status, errMsg string) string {
	if errMsg == "" {
		return status
	}
	return fmt.Sprintf("%s (%s)", status, errMsg)
}
