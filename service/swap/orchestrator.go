package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/capfriends/service/metrics"
	"github.com/google/uuid"
)

// DefaultSuccessMessage is handed to the confirmer when none is configured.
const DefaultSuccessMessage = "Successfully swapped"

// Observer receives an Event for every lifecycle transition of a swap.
// Each swap delivers its events in Seq order from a single goroutine that
// never holds the swap's lock, so a slow observer delays only the later
// events of that swap.
type Observer interface {
	OnSwapEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event Event)

// OnSwapEvent calls f.
func (f ObserverFunc) OnSwapEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

// Config contains the collaborators of an Orchestrator.
type Config struct {
	// Session is the connected wallet. It may be nil when no wallet is
	// connected, in which case targets carry no chain id.
	Session Session

	Codec     AddressCodec
	Call      CallDescriptor
	Simulator Simulator
	Submitter Submitter
	Confirmer Confirmer

	// SuccessMessage is passed to the confirmer. Defaults to DefaultSuccessMessage.
	SuccessMessage string

	Observers []Observer       // Optional
	Metrics   *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Orchestrator creates swaps against one contract interface and one set
// of chain collaborators.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Codec == nil {
		errs = append(errs, errors.New("address codec is required"))
	}
	if cfg.Call == nil {
		errs = append(errs, errors.New("call descriptor is required"))
	}
	if cfg.Simulator == nil {
		errs = append(errs, errors.New("simulator is required"))
	}
	if cfg.Submitter == nil {
		errs = append(errs, errors.New("submitter is required"))
	}
	if cfg.Confirmer == nil {
		errs = append(errs, errors.New("confirmer is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid orchestrator config: %w", errors.Join(errs...))
	}

	if cfg.SuccessMessage == "" {
		cfg.SuccessMessage = DefaultSuccessMessage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "swap_orchestrator"),
	}, nil
}

// Params are the caller-controlled inputs of a swap.
type Params struct {
	// Target is the raw contract address. Empty or invalid input falls
	// back to the codec's zero address.
	Target string

	// Amount to buy. Simulation is only issued when it is strictly positive.
	Amount *big.Int

	// OnSuccess runs at most once per distinct submission handle, after
	// that handle's confirmation succeeds.
	OnSuccess func()

	// SimulateEnabled gates the simulation request.
	SimulateEnabled bool
}

// NormalizeTarget returns the canonical form of raw on the session's chain.
func (o *Orchestrator) NormalizeTarget(raw string) Target {
	t := Target{Address: o.cfg.Codec.Zero()}
	if raw != "" {
		addr, err := o.cfg.Codec.Normalize(raw)
		if err != nil {
			o.logger.Warn("invalid target address, using zero address",
				"target", raw,
				"error", err,
			)
		} else {
			t.Address = addr
		}
	}
	if o.cfg.Session != nil {
		if chainID, ok := o.cfg.Session.ChainID(); ok {
			t.ChainID = chainID
		}
	}
	return t
}

// Initiate creates a swap for p. Background work (simulation, submission,
// confirmation) runs under ctx until ctx is cancelled or the swap is closed.
func (o *Orchestrator) Initiate(ctx context.Context, p Params) *Swap {
	ctx, cancel := context.WithCancel(ctx)

	s := &Swap{
		id:        uuid.NewString(),
		o:         o,
		ctx:       ctx,
		cancel:    cancel,
		target:    o.NormalizeTarget(p.Target),
		lifecycle: NewLifecycle(),
		changed:   make(chan struct{}),
		updatedAt: time.Now().UTC(),
	}
	s.simulation = SimulationResult{Status: StatusIdle}
	s.submission = SubmissionResult{Status: StatusIdle}
	s.confirmation = ConfirmationResult{Status: StatusIdle}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordSwapInitiated(string(s.target.ChainID))
	}
	o.logger.InfoContext(ctx, "swap initiated",
		"swap_id", s.id,
		"target", s.target.Address,
		"chain_id", s.target.ChainID,
		"amount", amountString(p.Amount),
		"simulate", p.SimulateEnabled,
	)

	s.Update(p)
	return s
}

func (o *Orchestrator) sender() string {
	if o.cfg.Session == nil {
		return ""
	}
	return o.cfg.Session.Address()
}

func (o *Orchestrator) emit(ctx context.Context, events []Event) {
	for _, e := range events {
		for _, obs := range o.cfg.Observers {
			obs.OnSwapEvent(ctx, e)
		}
	}
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
