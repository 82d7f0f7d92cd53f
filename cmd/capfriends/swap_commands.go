package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

const rpcTimeout = 30 * time.Second

func swapSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Simulate a buy without submitting it",
		ArgsUsage: "TARGET_ADDRESS AMOUNT",
		Description: `Runs the configured swap function as a read-only call and prints the preview.
AMOUNT is an integer in the token's smallest unit.

Example:
  capfriends swap simulate 0x... 1000000000000000000`,
		Action: func(c *cli.Context) error {
			target, amount, err := swapArgs(c)
			if err != nil {
				return err
			}

			_, b, logger, err := loadBackend(c)
			if err != nil {
				return err
			}
			defer b.Close()

			swapCfg := b.SwapConfig()
			swapCfg.Logger = logger
			swapCfg.Observers = append(swapCfg.Observers, logEvents(logger))
			orch, err := swap.New(swapCfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, rpcTimeout)
			defer cancel()

			snap, err := simulateSwap(ctx, orch, target, amount)
			if err != nil {
				return err
			}

			return reportSimulation(c.App.Writer, snap, c.Bool("json"))
		},
	}
}

func swapBuyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Simulate, submit and wait for a buy to confirm",
		ArgsUsage: "TARGET_ADDRESS AMOUNT",
		Description: `Buys AMOUNT (smallest unit) through the swap contract at TARGET_ADDRESS.

The buy is simulated first unless --no-simulate is set; a failed simulation
aborts the buy unless --force is set.

Example:
  capfriends swap buy 0x... 1000000000000000000 --timeout 3m`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-simulate",
				Usage: "Skip the simulation pre-check",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Submit even if the simulation fails",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for confirmation",
			},
		},
		Action: func(c *cli.Context) error {
			target, amount, err := swapArgs(c)
			if err != nil {
				return err
			}

			_, b, logger, err := loadBackend(c)
			if err != nil {
				return err
			}
			defer b.Close()

			if b.Session == nil {
				return swap.ErrNoSession
			}

			swapCfg := b.SwapConfig()
			swapCfg.Logger = logger
			swapCfg.Observers = append(swapCfg.Observers, logEvents(logger))
			orch, err := swap.New(swapCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
			defer cancel()

			out := c.App.Writer
			if c.Bool("json") {
				out = io.Discard
			}

			snap, err := buySwap(ctx, orch, target, amount, buyOptions{
				Simulate: !c.Bool("no-simulate"),
				Force:    c.Bool("force"),
			}, out)
			if c.Bool("json") && snap.ID != "" {
				if perr := printJSON(c.App.Writer, buyView(snap)); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func swapArgs(c *cli.Context) (string, *big.Int, error) {
	if c.NArg() != 2 {
		return "", nil, fmt.Errorf("target address and amount are required")
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return "", nil, err
	}
	return c.Args().Get(0), amount, nil
}

// parseAmount parses a positive base-10 integer.
func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q: must be a base-10 integer", s)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// reportSimulation prints a settled simulation and fails when it failed,
// so scripts see a non-zero exit in either output mode.
func reportSimulation(w io.Writer, snap swap.Snapshot, asJSON bool) error {
	if asJSON {
		if err := printJSON(w, simulationView(snap)); err != nil {
			return err
		}
	} else {
		printSimulation(w, snap)
	}
	if snap.Simulation.Status == swap.StatusError {
		return fmt.Errorf("simulation failed: %w", snap.Simulation.Err)
	}
	return nil
}

// logEvents logs every swap event at debug level.
func logEvents(logger *slog.Logger) swap.Observer {
	return swap.ObserverFunc(func(ctx context.Context, e swap.Event) {
		logger.DebugContext(ctx, "swap event",
			"swap_id", e.SwapID,
			"seq", e.Seq,
			"kind", e.Kind,
			"status", e.Status,
			"handle", e.Handle,
			"error", e.Error,
		)
	})
}

// simulateSwap runs one simulation and returns the settled snapshot.
func simulateSwap(ctx context.Context, orch *swap.Orchestrator, target string, amount *big.Int) (swap.Snapshot, error) {
	s := orch.Initiate(ctx, swap.Params{
		Target:          target,
		Amount:          amount,
		SimulateEnabled: true,
	})
	defer s.Close()

	return s.WaitFor(ctx, func(snap swap.Snapshot) bool {
		return snap.Simulation.Status.Settled()
	})
}

type buyOptions struct {
	Simulate bool
	Force    bool
}

// buySwap drives a swap from simulation to confirmation, reporting
// progress to w. It returns once the submission cycle settles and the
// success callback, if due, has run.
func buySwap(ctx context.Context, orch *swap.Orchestrator, target string, amount *big.Int, opts buyOptions, w io.Writer) (swap.Snapshot, error) {
	fired := make(chan struct{}, 1)
	s := orch.Initiate(ctx, swap.Params{
		Target:          target,
		Amount:          amount,
		SimulateEnabled: opts.Simulate,
		OnSuccess: func() {
			fmt.Fprintf(w, "✓ %s\n", swap.DefaultSuccessMessage)
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})
	defer s.Close()

	fmt.Fprintf(w, "Target:  %s\n", s.Target().Address)
	fmt.Fprintf(w, "Amount:  %s\n", amount)

	if opts.Simulate {
		snap, err := s.WaitFor(ctx, func(snap swap.Snapshot) bool {
			return snap.Simulation.Status.Settled()
		})
		if err != nil {
			return snap, fmt.Errorf("waiting for simulation: %w", err)
		}
		printSimulation(w, snap)
		if snap.Simulation.Status == swap.StatusError && !opts.Force {
			return snap, fmt.Errorf("simulation failed: %w", snap.Simulation.Err)
		}
	}

	if err := s.Submit(); err != nil {
		return s.Snapshot(), err
	}
	fmt.Fprintf(w, "Submitting...\n")

	snap, err := s.Wait(ctx)
	if err != nil {
		return snap, fmt.Errorf("waiting for confirmation: %w", err)
	}
	if snap.Submission.Status == swap.StatusError {
		return snap, fmt.Errorf("submission rejected: %w", snap.Submission.Err)
	}
	fmt.Fprintf(w, "Handle:  %s\n", snap.Submission.Handle)
	if snap.Confirmation.Status == swap.StatusError {
		return snap, fmt.Errorf("confirmation failed: %w", snap.Confirmation.Err)
	}
	if snap.Confirmation.Receipt != nil {
		fmt.Fprintf(w, "Block:   %d\n", snap.Confirmation.Receipt.Block)
	}

	// The callback runs just after the confirmation is recorded.
	select {
	case <-fired:
	case <-ctx.Done():
		return s.Snapshot(), errors.New("confirmed, but the success callback did not run")
	}
	return s.Snapshot(), nil
}

func printSimulation(w io.Writer, snap swap.Snapshot) {
	sim := snap.Simulation
	if sim.Status == swap.StatusError {
		fmt.Fprintf(w, "✗ Simulation failed: %v\n", sim.Err)
		return
	}
	fmt.Fprintf(w, "✓ Simulation succeeded\n")
	if sim.Output == nil {
		return
	}
	if sim.Output.GasLimit > 0 {
		fmt.Fprintf(w, "  Gas:     %d\n", sim.Output.GasLimit)
	}
	if len(sim.Output.ReturnData) > 0 {
		fmt.Fprintf(w, "  Returns: %s\n", hexutil.Encode(sim.Output.ReturnData))
	}
	for _, l := range sim.Output.Logs {
		fmt.Fprintf(w, "  Log:     %s\n", l)
	}
}

func simulationView(snap swap.Snapshot) map[string]any {
	sim := snap.Simulation
	view := map[string]any{
		"target": snap.Target.Address,
		"amount": snap.Amount.String(),
		"status": string(sim.Status),
	}
	if sim.Err != nil {
		view["error"] = sim.Err.Error()
	}
	if sim.Output != nil {
		view["gas_limit"] = sim.Output.GasLimit
		view["logs"] = sim.Output.Logs
		if len(sim.Output.ReturnData) > 0 {
			view["return_data"] = hexutil.Encode(sim.Output.ReturnData)
		}
	}
	return view
}

func buyView(snap swap.Snapshot) map[string]any {
	view := map[string]any{
		"id":                  snap.ID,
		"target":              snap.Target.Address,
		"stage":               string(snap.Stage),
		"simulation_status":   string(snap.Simulation.Status),
		"submission_status":   string(snap.Submission.Status),
		"handle":              snap.Submission.Handle,
		"confirmation_status": string(snap.Confirmation.Status),
		"fired":               snap.Fired,
	}
	if snap.Confirmation.Receipt != nil {
		view["block"] = snap.Confirmation.Receipt.Block
	}
	for key, err := range map[string]error{
		"simulation_error":   snap.Simulation.Err,
		"submission_error":   snap.Submission.Err,
		"confirmation_error": snap.Confirmation.Err,
	} {
		if err != nil {
			view[key] = err.Error()
		}
	}
	return view
}
