package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/evm"
	"github.com/brojonat/capfriends/service/swap"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAmountLength    = 78      // digits in the largest uint256
)

// TokenReader reads ERC-20 metadata for the token details endpoint.
type TokenReader interface {
	TokenDetails(ctx context.Context, address string) (*evm.TokenDetails, error)
}

// swapRequest is the body of the create and simulate endpoints.
// Amount is a base-10 integer string in the token's smallest unit.
type swapRequest struct {
	Target   string `json:"target"`
	Amount   string `json:"amount"`
	Simulate *bool  `json:"simulate"` // defaults to true
}

func (r swapRequest) simulate() bool {
	return r.Simulate == nil || *r.Simulate
}

// handleCreateSwap returns a handler that initiates a swap.
// POST /api/v1/swaps
func handleCreateSwap(ctx context.Context, orch *swap.Orchestrator, registry *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSwapRequest(w, r, logger)
		if !ok {
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			logger.Debug("invalid amount", "amount", req.Amount, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Swaps outlive the request that created them.
		var s *swap.Swap
		onSuccess := func() {
			logger.Info("swap succeeded", "swap_id", s.ID(), "target", s.Target().Address)
		}
		s = orch.Initiate(ctx, swap.Params{
			Target:          req.Target,
			Amount:          amount,
			OnSuccess:       onSuccess,
			SimulateEnabled: req.simulate(),
		})
		if err := registry.add(s, onSuccess); err != nil {
			s.Close()
			logger.WarnContext(r.Context(), "swap registry full", "error", err)
			writeError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		logger.InfoContext(r.Context(), "swap created",
			"swap_id", s.ID(),
			"target", s.Target().Address,
			"amount", amount.String(),
		)
		writeJSON(w, swapToResponse(s.Snapshot()), http.StatusCreated)
	})
}

// handleSimulateSwap returns a handler that re-evaluates a swap with a new
// amount or simulation gate. A failed simulation is retried even when the
// inputs are unchanged.
// POST /api/v1/swaps/{id}/simulate
func handleSimulateSwap(registry *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry, ok := registry.get(r.PathValue("id"))
		if !ok {
			writeError(w, "swap not found", http.StatusNotFound)
			return
		}

		req, ok := decodeSwapRequest(w, r, logger)
		if !ok {
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			logger.Debug("invalid amount", "amount", req.Amount, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := swap.Params{
			Amount:          amount,
			OnSuccess:       entry.onSuccess,
			SimulateEnabled: req.simulate(),
		}
		entry.swap.Update(params)
		if entry.swap.Snapshot().Simulation.Status == swap.StatusError {
			entry.swap.Refetch()
		}
		writeJSON(w, swapToResponse(entry.swap.Snapshot()), http.StatusOK)
	})
}

// handleSubmitSwap returns a handler that triggers the write for a swap.
// The submission and confirmation settle asynchronously.
// POST /api/v1/swaps/{id}/submit
func handleSubmitSwap(registry *Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		entry, ok := registry.get(id)
		if !ok {
			writeError(w, "swap not found", http.StatusNotFound)
			return
		}

		if err := entry.swap.Submit(); err != nil {
			switch {
			case errors.Is(err, swap.ErrSubmissionPending):
				writeError(w, err.Error(), http.StatusConflict)
			case errors.Is(err, swap.ErrClosed):
				writeError(w, err.Error(), http.StatusGone)
			default:
				logger.Error("failed to submit swap", "swap_id", id, "error", err)
				writeError(w, "failed to submit swap", http.StatusInternalServerError)
			}
			return
		}

		logger.InfoContext(r.Context(), "swap submitted", "swap_id", id)
		writeJSON(w, swapToResponse(entry.swap.Snapshot()), http.StatusAccepted)
	})
}

// handleGetSwap returns a handler that reports the state of a swap.
// GET /api/v1/swaps/{id}
func handleGetSwap(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry, ok := registry.get(r.PathValue("id"))
		if !ok {
			writeError(w, "swap not found", http.StatusNotFound)
			return
		}
		writeJSON(w, swapToResponse(entry.swap.Snapshot()), http.StatusOK)
	})
}

// handleGetToken returns a handler that reads ERC-20 token details.
// GET /api/v1/tokens/{address}
func handleGetToken(tokens TokenReader, codec swap.AddressCodec, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil {
			writeError(w, "token details are not supported on this chain", http.StatusNotImplemented)
			return
		}

		address, err := codec.Normalize(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		details, err := tokens.TokenDetails(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read token details", "address", address, "error", err)
			writeError(w, "failed to read token details", http.StatusBadGateway)
			return
		}

		writeJSON(w, details, http.StatusOK)
	})
}

type walletResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	ChainID   string `json:"chain_id,omitempty"`
	Chain     string `json:"chain"`
	Network   string `json:"network"`
}

// handleGetWallet returns a handler that reports the connected wallet.
// GET /api/v1/wallet
func handleGetWallet(session swap.Session, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := walletResponse{
			Chain:   cfg.Chain,
			Network: cfg.Network,
		}
		if session != nil {
			if chainID, ok := session.ChainID(); ok {
				resp.Connected = true
				resp.ChainID = string(chainID)
				resp.Address = session.Address()
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// swapResponse is the API view of a swap snapshot.
type swapResponse struct {
	ID           string               `json:"id"`
	Target       string               `json:"target"`
	ChainID      string               `json:"chain_id,omitempty"`
	Amount       string               `json:"amount"`
	Stage        string               `json:"stage"`
	Simulation   simulationResponse   `json:"simulation"`
	Submission   submissionResponse   `json:"submission"`
	Confirmation confirmationResponse `json:"confirmation"`
	InFlight     bool                 `json:"in_flight"`
	Fired        int                  `json:"fired"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type simulationResponse struct {
	Status     string   `json:"status"`
	Fetched    bool     `json:"fetched"`
	Amount     string   `json:"amount,omitempty"`
	GasLimit   uint64   `json:"gas_limit,omitempty"`
	ReturnData string   `json:"return_data,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type submissionResponse struct {
	Status string `json:"status"`
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`
}

type confirmationResponse struct {
	Status  string `json:"status"`
	Handle  string `json:"handle,omitempty"`
	Block   uint64 `json:"block,omitempty"`
	GasUsed uint64 `json:"gas_used,omitempty"`
	Error   string `json:"error,omitempty"`
}

// swapToResponse converts a swap snapshot to a response format.
func swapToResponse(snap swap.Snapshot) swapResponse {
	resp := swapResponse{
		ID:        snap.ID,
		Target:    snap.Target.Address,
		ChainID:   string(snap.Target.ChainID),
		Amount:    "0",
		Stage:     string(snap.Stage),
		InFlight:  snap.InFlight,
		Fired:     snap.Fired,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Amount != nil {
		resp.Amount = snap.Amount.String()
	}

	sim := snap.Simulation
	resp.Simulation = simulationResponse{
		Status:  string(sim.Status),
		Fetched: sim.Fetched,
		Error:   errString(sim.Err),
	}
	if sim.Amount != nil {
		resp.Simulation.Amount = sim.Amount.String()
	}
	if sim.Output != nil {
		resp.Simulation.GasLimit = sim.Output.GasLimit
		resp.Simulation.Logs = sim.Output.Logs
		if len(sim.Output.ReturnData) > 0 {
			resp.Simulation.ReturnData = hexutil.Encode(sim.Output.ReturnData)
		}
	}

	resp.Submission = submissionResponse{
		Status: string(snap.Submission.Status),
		Handle: snap.Submission.Handle,
		Error:  errString(snap.Submission.Err),
	}

	conf := snap.Confirmation
	resp.Confirmation = confirmationResponse{
		Status: string(conf.Status),
		Handle: conf.Handle,
		Error:  errString(conf.Err),
	}
	if conf.Receipt != nil {
		resp.Confirmation.Block = conf.Receipt.Block
		resp.Confirmation.GasUsed = conf.Receipt.GasUsed
	}

	return resp
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// decodeSwapRequest reads a swapRequest, writing a 400 on failure.
func decodeSwapRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (swapRequest, bool) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode swap request", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return req, false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// parseAmount parses a non-negative base-10 integer. An empty string is zero.
func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if len(s) > maxAmountLength {
		return nil, fmt.Errorf("amount too long: maximum is %d digits", maxAmountLength)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q: must be a base-10 integer", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return amount, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
