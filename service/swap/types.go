package swap

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	// ErrNotSubmitted is returned by Wait when no submission was ever triggered.
	ErrNotSubmitted = errors.New("swap has not been submitted")

	// ErrSubmissionPending is returned by Submit while a previous submission
	// is still waiting for the network to accept it.
	ErrSubmissionPending = errors.New("a submission is already pending")

	// ErrNoSession is returned by collaborators that need a connected wallet.
	ErrNoSession = errors.New("no wallet session connected")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("swap is closed")
)

// ChainID identifies a network. EVM backends use the decimal chain id,
// Solana backends the cluster name. Empty means no wallet session.
type ChainID string

// Target is a normalized contract address on a chain.
type Target struct {
	Address string  `json:"address"`
	ChainID ChainID `json:"chain_id,omitempty"`
}

// Status is the state of one externally produced result.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Settled reports whether the status is terminal.
func (s Status) Settled() bool {
	return s == StatusSuccess || s == StatusError
}

// Session is the connected wallet. It is passed to the orchestrator
// explicitly instead of being read from ambient state.
type Session interface {
	// ChainID returns the chain of the connected wallet, if any.
	ChainID() (ChainID, bool)
	// Address returns the account that signs submissions.
	Address() string
}

// AddressCodec normalizes raw address strings for one chain family.
type AddressCodec interface {
	// Normalize returns the canonical (checksummed) form of raw.
	Normalize(raw string) (string, error)
	// Zero returns the canonical zero address.
	Zero() string
}

// CallDescriptor describes the callable contract operation and how its
// arguments are encoded. The orchestrator only passes it through.
type CallDescriptor interface {
	Name() string
	Encode(args ...any) ([]byte, error)
}

// Call is a fully described contract invocation.
type Call struct {
	Target     Target
	From       string
	Descriptor CallDescriptor
	Args       []any
}

// SimulationOutput is the preview returned by a successful simulation.
type SimulationOutput struct {
	ReturnData []byte   `json:"return_data,omitempty"`
	GasLimit   uint64   `json:"gas_limit,omitempty"`
	Logs       []string `json:"logs,omitempty"`
}

// Receipt is the outcome of a confirmed submission.
type Receipt struct {
	Handle  string `json:"handle"`
	Block   uint64 `json:"block"`
	GasUsed uint64 `json:"gas_used,omitempty"`
}

// ConfirmOptions are passed through to the confirmation collaborator.
type ConfirmOptions struct {
	// SuccessMessage is logged by the collaborator when the submission confirms.
	SuccessMessage string
}

// Simulator performs a read-only pre-check of a call.
type Simulator interface {
	Simulate(ctx context.Context, call Call) (*SimulationOutput, error)
}

// Submitter broadcasts a call and returns its submission handle.
// prepared is the output of a successful simulation for the same call, or nil.
type Submitter interface {
	Submit(ctx context.Context, call Call, prepared *SimulationOutput) (string, error)
}

// Confirmer blocks until the submission identified by handle settles.
// A reverted or timed out submission is reported as an error.
type Confirmer interface {
	Confirm(ctx context.Context, handle string, opts ConfirmOptions) (*Receipt, error)
}

// SimulationResult is the state of the simulation request.
type SimulationResult struct {
	Status  Status
	Fetched bool
	Amount  *big.Int
	Output  *SimulationOutput
	Err     error
}

// SubmissionResult is the state of the submit request.
type SubmissionResult struct {
	Status Status
	Handle string
	Err    error
}

// ConfirmationResult is the state of the confirmation watch bound to Handle.
type ConfirmationResult struct {
	Status  Status
	Handle  string
	Receipt *Receipt
	Err     error
}

// Snapshot is a consistent copy of a swap's state.
type Snapshot struct {
	ID           string
	Target       Target
	Amount       *big.Int
	Stage        Stage
	Simulation   SimulationResult
	Submission   SubmissionResult
	Confirmation ConfirmationResult
	InFlight     bool
	Fired        int
	UpdatedAt    time.Time
}
