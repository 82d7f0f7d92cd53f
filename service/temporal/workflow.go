package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Confirmation statuses reported in AwaitConfirmationResult.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// AwaitConfirmationInput contains input for awaiting a submission.
type AwaitConfirmationInput struct {
	Handle         string        `json:"handle"`
	Chain          string        `json:"chain"`
	SuccessMessage string        `json:"success_message"`
	Timeout        time.Duration `json:"timeout"`
}

// AwaitConfirmationResult contains the outcome of awaiting a submission.
type AwaitConfirmationResult struct {
	Handle      string    `json:"handle"`
	Chain       string    `json:"chain"`
	Block       uint64    `json:"block"`
	GasUsed     uint64    `json:"gas_used"`
	Status      string    `json:"status"` // "confirmed", "failed"
	ConfirmedAt time.Time `json:"confirmed_at"`
	Error       *string   `json:"error,omitempty"`
}

// AwaitConfirmationWorkflow waits for one submission handle to settle.
// A reverted transaction fails the workflow without retries; transient
// errors are retried by the activity retry policy.
func AwaitConfirmationWorkflow(ctx workflow.Context, input AwaitConfirmationInput) (*AwaitConfirmationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("AwaitConfirmationWorkflow started",
		"handle", input.Handle,
		"chain", input.Chain,
	)

	result := &AwaitConfirmationResult{
		Handle: input.Handle,
		Chain:  input.Chain,
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: timeout + 30*time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeTransactionFailed, ErrTypeConfirmationTimeout},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var receipt *AwaitConfirmationResult
	err := workflow.ExecuteActivity(ctx, "AwaitConfirmation", input).Get(ctx, &receipt)
	if err != nil {
		logger.Error("confirmation failed", "handle", input.Handle, "error", err)
		errMsg := err.Error()
		result.Error = &errMsg
		result.Status = StatusFailed
		return result, fmt.Errorf("confirmation failed: %w", err)
	}

	result.Block = receipt.Block
	result.GasUsed = receipt.GasUsed
	result.Status = StatusConfirmed
	result.ConfirmedAt = workflow.Now(ctx)

	logger.Info("submission confirmed",
		"handle", input.Handle,
		"block", result.Block,
	)

	return result, nil
}
