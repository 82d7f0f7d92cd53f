package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/capfriends/service/evm"
	"github.com/brojonat/capfriends/service/metrics"
	"github.com/brojonat/capfriends/service/solana"
	"github.com/brojonat/capfriends/service/swap"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Application error types that the workflow does not retry.
const (
	ErrTypeTransactionFailed   = "TransactionFailed"
	ErrTypeConfirmationTimeout = "ConfirmationTimeout"
)

// Activities holds the dependencies of the confirmation activities.
type Activities struct {
	confirmer swap.Confirmer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance.
// If metrics is nil, no metrics will be recorded.
func NewActivities(confirmer swap.Confirmer, m *metrics.Metrics, logger *slog.Logger) *Activities {
	return &Activities{
		confirmer: confirmer,
		metrics:   m,
		logger:    logger,
	}
}

// AwaitConfirmation blocks on the chain confirmer until the handle settles,
// heartbeating while it waits.
func (a *Activities) AwaitConfirmation(ctx context.Context, input AwaitConfirmationInput) (*AwaitConfirmationResult, error) {
	defer metrics.Timer(time.Now(), func(seconds float64) {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("AwaitConfirmation", seconds)
		}
	})()

	a.logger.InfoContext(ctx, "waiting for confirmation",
		"handle", input.Handle,
		"chain", input.Chain,
	)

	if a.confirmer == nil {
		return nil, fmt.Errorf("confirmer not configured in activities")
	}

	// Send heartbeats while waiting so Temporal knows the activity is alive.
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, "waiting for confirmation")
			}
		}
	}()

	if input.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, input.Timeout)
		defer cancelTimeout()
	}

	receipt, err := a.confirmer.Confirm(ctx, input.Handle, swap.ConfirmOptions{
		SuccessMessage: input.SuccessMessage,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "confirmation failed",
			"handle", input.Handle,
			"error", err,
		)
		return nil, classify(err)
	}

	return &AwaitConfirmationResult{
		Handle:  receipt.Handle,
		Chain:   input.Chain,
		Block:   receipt.Block,
		GasUsed: receipt.GasUsed,
		Status:  StatusConfirmed,
	}, nil
}

// classify marks chain-level failures as non-retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, evm.ErrReverted), errors.Is(err, solana.ErrTransactionFailed):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTransactionFailed, err)
	case errors.Is(err, evm.ErrReceiptTimeout), errors.Is(err, solana.ErrConfirmationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfirmationTimeout, err)
	default:
		return err
	}
}
