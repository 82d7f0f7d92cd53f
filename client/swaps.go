package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Swap is the server's view of a swap.
type Swap struct {
	ID           string       `json:"id"`
	Target       string       `json:"target"`
	ChainID      string       `json:"chain_id,omitempty"`
	Amount       string       `json:"amount"`
	Stage        string       `json:"stage"`
	Simulation   Simulation   `json:"simulation"`
	Submission   Submission   `json:"submission"`
	Confirmation Confirmation `json:"confirmation"`
	InFlight     bool         `json:"in_flight"`
	Fired        int          `json:"fired"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Simulation is the state of a swap's simulation request.
type Simulation struct {
	Status     string   `json:"status"` // idle, pending, success, error
	Fetched    bool     `json:"fetched"`
	Amount     string   `json:"amount,omitempty"`
	GasLimit   uint64   `json:"gas_limit,omitempty"`
	ReturnData string   `json:"return_data,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Submission is the state of a swap's submit request.
type Submission struct {
	Status string `json:"status"`
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Confirmation is the state of the watch on the latest submission.
type Confirmation struct {
	Status  string `json:"status"`
	Handle  string `json:"handle,omitempty"`
	Block   uint64 `json:"block,omitempty"`
	GasUsed uint64 `json:"gas_used,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Settled reports whether the latest submission cycle is over: the
// submission was rejected or its confirmation succeeded or failed.
func (s *Swap) Settled() bool {
	if s.Submission.Status == "error" {
		return true
	}
	return s.Confirmation.Status == "success" || s.Confirmation.Status == "error"
}

type swapRequest struct {
	Target   string `json:"target,omitempty"`
	Amount   string `json:"amount"`
	Simulate bool   `json:"simulate"`
}

// CreateSwap initiates a swap on target for amount (base-10, smallest unit).
func (c *Client) CreateSwap(ctx context.Context, target, amount string, simulate bool) (*Swap, error) {
	var s Swap
	req := swapRequest{Target: target, Amount: amount, Simulate: simulate}
	if err := c.do(ctx, http.MethodPost, "/api/v1/swaps", req, http.StatusCreated, &s); err != nil {
		return nil, err
	}
	c.logger.Debug("swap created", "swap_id", s.ID, "target", s.Target)
	return &s, nil
}

// SimulateSwap re-evaluates a swap with a new amount or simulation gate.
func (c *Client) SimulateSwap(ctx context.Context, id, amount string, simulate bool) (*Swap, error) {
	var s Swap
	req := swapRequest{Amount: amount, Simulate: simulate}
	if err := c.do(ctx, http.MethodPost, swapPath(id)+"/simulate", req, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SubmitSwap triggers the write for a swap.
func (c *Client) SubmitSwap(ctx context.Context, id string) (*Swap, error) {
	var s Swap
	if err := c.do(ctx, http.MethodPost, swapPath(id)+"/submit", nil, http.StatusAccepted, &s); err != nil {
		return nil, err
	}
	c.logger.Debug("swap submitted", "swap_id", id)
	return &s, nil
}

// GetSwap retrieves the state of a swap.
func (c *Client) GetSwap(ctx context.Context, id string) (*Swap, error) {
	var s Swap
	if err := c.do(ctx, http.MethodGet, swapPath(id), nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WaitSwap polls a submitted swap until its submission cycle settles or
// ctx is done.
func (c *Client) WaitSwap(ctx context.Context, id string, pollInterval time.Duration) (*Swap, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		s, err := c.GetSwap(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.Submission.Status == "idle" {
			return s, fmt.Errorf("swap %s has not been submitted", id)
		}
		if s.Settled() {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}

func swapPath(id string) string {
	return "/api/v1/swaps/" + url.PathEscape(id)
}
