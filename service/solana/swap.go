package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/capfriends/service/swap"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// buildTransaction encodes the call as a single unsigned instruction
// against the target program, paid by payer.
func (c *Client) buildTransaction(ctx context.Context, call swap.Call, payer solana.PublicKey) (*solana.Transaction, error) {
	program, err := solana.PublicKeyFromBase58(call.Target.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	data, err := call.Descriptor.Encode(call.Args...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.observe("GetLatestBlockhash", start, err)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	if latest == nil || latest.Value == nil {
		return nil, errors.New("latest blockhash: empty response")
	}

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
	}, data)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		latest.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

// simulationPayer returns the wallet, or the configured simulation payer
// when there is no wallet.
func (c *Client) simulationPayer() (solana.PublicKey, error) {
	if c.cfg.Wallet != nil {
		return c.cfg.Wallet.publicKey(), nil
	}
	if !c.cfg.SimulationPayer.IsZero() {
		return c.cfg.SimulationPayer, nil
	}
	return solana.PublicKey{}, fmt.Errorf("%w: set a wallet or a simulation payer", swap.ErrNoSession)
}

// Simulate runs the unsigned transaction through simulateTransaction with
// signature checks off, so it works without a wallet when a simulation
// payer is configured. A program error is returned as an error carrying
// the program logs.
func (c *Client) Simulate(ctx context.Context, call swap.Call) (*swap.SimulationOutput, error) {
	payer, err := c.simulationPayer()
	if err != nil {
		return nil, err
	}
	tx, err := c.buildTransaction(ctx, call, payer)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "simulating transaction",
		"cluster", c.cfg.Cluster,
		"program", call.Target.Address,
		"instruction", call.Descriptor.Name(),
	)

	start := time.Now()
	resp, err := c.rpc.SimulateTransaction(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
	})
	c.observe("SimulateTransaction", start, err)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", call.Descriptor.Name(), err)
	}
	if resp == nil || resp.Value == nil {
		return nil, errors.New("simulate: empty response")
	}

	res := resp.Value
	if res.Err != nil {
		return nil, fmt.Errorf("simulate %s: program error %v: %s",
			call.Descriptor.Name(), res.Err, strings.Join(res.Logs, "; "))
	}

	out := &swap.SimulationOutput{Logs: res.Logs}
	if res.UnitsConsumed != nil {
		out.GasLimit = *res.UnitsConsumed
	}
	return out, nil
}

// Submit signs and sends the transaction and returns its signature.
func (c *Client) Submit(ctx context.Context, call swap.Call, prepared *swap.SimulationOutput) (string, error) {
	w := c.cfg.Wallet
	if w == nil {
		return "", swap.ErrNoSession
	}
	payer := w.publicKey()

	tx, err := c.buildTransaction(ctx, call, payer)
	if err != nil {
		return "", err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &w.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx)
	c.observe("SendTransaction", start, err)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	attrs := []any{
		"cluster", c.cfg.Cluster,
		"signature", sig.String(),
	}
	if prepared != nil {
		attrs = append(attrs, "simulated_units", prepared.GasLimit)
	}
	c.logger.InfoContext(ctx, "transaction sent", attrs...)
	return sig.String(), nil
}

// Confirm polls the signature status until it reaches the confirmed
// commitment, fails, or the timeout elapses.
func (c *Client) Confirm(ctx context.Context, handle string, opts swap.ConfirmOptions) (*swap.Receipt, error) {
	sig, err := solana.SignatureFromBase58(handle)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", handle, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.status(ctx, sig)
		if err != nil {
			c.logger.WarnContext(ctx, "signature status lookup failed",
				"cluster", c.cfg.Cluster,
				"signature", handle,
				"error", err,
			)
		} else if status != nil {
			if status.Err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrTransactionFailed, handle, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				msg := opts.SuccessMessage
				if msg == "" {
					msg = "transaction confirmed"
				}
				c.logger.InfoContext(ctx, msg,
					"cluster", c.cfg.Cluster,
					"signature", handle,
					"slot", status.Slot,
				)
				return &swap.Receipt{Handle: handle, Block: status.Slot}, nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, handle)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// status returns nil while the cluster has not seen the signature.
func (c *Client) status(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationPoll(c.cfg.Cluster)
	}
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, sig)
	c.observe("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}
