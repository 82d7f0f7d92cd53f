package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

// EventKind names the request an Event is about.
type EventKind string

const (
	EventSimulation   EventKind = "simulation"
	EventSubmission   EventKind = "submission"
	EventConfirmation EventKind = "confirmation"
	EventCallback     EventKind = "callback"
)

// Event describes one lifecycle transition of a swap.
type Event struct {
	SwapID string
	Target Target
	Amount string
	Kind   EventKind
	Stage  Stage
	Status Status
	Handle string
	Error  string
	Time   time.Time

	// Seq orders the events of one swap, starting at 1.
	Seq uint64
}

// Swap is one orchestrated buy: a simulation gated on its inputs, a
// submission trigger, and a confirmation watch bound to the latest
// submission handle.
type Swap struct {
	id     string
	o      *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	target       Target
	params       Params
	simulation   SimulationResult
	simSeq       uint64
	gateOpen     bool
	submission   SubmissionResult
	submittedAt  time.Time
	confirmation ConfirmationResult
	lifecycle    *Lifecycle
	fired        int
	closed       bool
	changed      chan struct{}
	updatedAt    time.Time
	eventSeq     uint64

	// outbox holds events not yet handed to the observers. At most one
	// deliver goroutine drains it at a time.
	outbox     []Event
	delivering bool
}

// ID returns the swap identifier.
func (s *Swap) ID() string {
	return s.id
}

// Target returns the normalized target.
func (s *Swap) Target() Target {
	return s.target
}

// Update re-evaluates the swap with new caller inputs. The target is
// fixed for the life of the swap; p.Target is ignored.
//
// A simulation is issued when the gate (amount > 0 and SimulateEnabled)
// opens, or is open and no simulation exists for the current amount.
// Reopening a closed gate always refetches, even for an unchanged amount.
// The success callback is re-evaluated but never runs twice for the same
// handle.
func (s *Swap) Update(p Params) {
	var amount *big.Int
	if p.Amount != nil {
		amount = new(big.Int).Set(p.Amount)
	}

	s.mu.Lock()
	s.params.Amount = amount
	s.params.OnSuccess = p.OnSuccess
	s.params.SimulateEnabled = p.SimulateEnabled

	var (
		events   []Event
		simulate bool
		seq      uint64
		call     Call
	)

	gateOpen := p.SimulateEnabled && amount != nil && amount.Sign() > 0
	reopened := gateOpen && !s.gateOpen
	s.gateOpen = gateOpen
	sameAmount := s.simulation.Amount != nil && amount != nil && s.simulation.Amount.Cmp(amount) == 0
	switch {
	case gateOpen && (reopened || !sameAmount || s.simulation.Status == StatusIdle):
		seq, call = s.startSimulationLocked(amount, &events)
		simulate = true
	case !gateOpen && s.simulation.Amount != nil && !sameAmount:
		// Any cached or in-flight result belongs to another amount.
		s.simSeq++
		s.simulation = SimulationResult{Status: StatusIdle}
		s.lifecycle.SimulationSettled()
	}

	fire, cb := s.takeFireLocked(&events)
	s.enqueueLocked(events)
	s.touchLocked()
	s.mu.Unlock()

	if simulate {
		go s.simulate(seq, call)
	}
	if fire {
		cb()
	}
}

// Refetch re-issues the simulation for the current inputs, discarding any
// cached or in-flight result. It reports false when the gate is closed.
func (s *Swap) Refetch() bool {
	s.mu.Lock()
	if !s.gateOpen || s.closed {
		s.mu.Unlock()
		return false
	}
	var events []Event
	seq, call := s.startSimulationLocked(s.params.Amount, &events)
	s.enqueueLocked(events)
	s.touchLocked()
	s.mu.Unlock()

	go s.simulate(seq, call)
	return true
}

// startSimulationLocked supersedes any earlier simulation and marks a new
// one pending for amount.
func (s *Swap) startSimulationLocked(amount *big.Int, events *[]Event) (uint64, Call) {
	s.simSeq++
	s.simulation = SimulationResult{Status: StatusPending, Amount: amount}
	s.lifecycle.Simulating()
	*events = append(*events, s.eventLocked(EventSimulation, StatusPending, "", nil))
	return s.simSeq, s.callLocked(amount)
}

// Submit triggers the write. The submission handle, and afterwards the
// confirmation, arrive asynchronously; use Snapshot or Wait to observe them.
// Submit only fails when the swap is closed or a submission is pending.
func (s *Swap) Submit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.submission.Status == StatusPending {
		s.mu.Unlock()
		return ErrSubmissionPending
	}

	amount := s.params.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	call := s.callLocked(amount)

	// Reuse the simulation preview when it was produced for this amount.
	var prepared *SimulationOutput
	if s.simulation.Status == StatusSuccess && s.simulation.Amount != nil && s.simulation.Amount.Cmp(amount) == 0 {
		prepared = s.simulation.Output
	}

	s.submission = SubmissionResult{Status: StatusPending}
	s.confirmation = ConfirmationResult{Status: StatusIdle}
	s.lifecycle.SubmissionStarted()
	s.submittedAt = time.Now()
	s.enqueueLocked([]Event{s.eventLocked(EventSubmission, StatusPending, "", nil)})
	s.touchLocked()
	s.mu.Unlock()

	go s.submit(call, prepared)
	return nil
}

// Snapshot returns a consistent copy of the swap state.
func (s *Swap) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// InFlight reports whether a submission or confirmation is pending, or a
// simulation was issued and has not settled yet.
func (s *Swap) InFlight() bool {
	return s.Snapshot().InFlight
}

// WaitFor blocks until cond holds for the swap state or ctx is done.
func (s *Swap) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		s.mu.Lock()
		snap := s.snapshotLocked()
		ch := s.changed
		s.mu.Unlock()

		if cond(snap) {
			return snap, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Wait blocks until the current submission cycle settles: the submission
// is rejected or its confirmation succeeds or fails.
func (s *Swap) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	submitted := s.submission.Status != StatusIdle
	s.mu.Unlock()
	if !submitted {
		return Snapshot{}, ErrNotSubmitted
	}

	return s.WaitFor(ctx, func(snap Snapshot) bool {
		return snap.Submission.Status == StatusError || snap.Confirmation.Status.Settled()
	})
}

// Close cancels outstanding background work. Results that arrive after
// Close are still recorded but no new submissions are accepted.
func (s *Swap) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Swap) simulate(seq uint64, call Call) {
	out, err := s.o.cfg.Simulator.Simulate(s.ctx, call)

	s.mu.Lock()
	if seq != s.simSeq {
		s.mu.Unlock()
		s.o.logger.DebugContext(s.ctx, "discarding superseded simulation result", "swap_id", s.id)
		if s.o.cfg.Metrics != nil {
			s.o.cfg.Metrics.RecordStaleResult("simulation")
		}
		return
	}

	status := StatusSuccess
	if err != nil {
		status = StatusError
		s.simulation.Err = err
	} else {
		s.simulation.Output = out
	}
	s.simulation.Status = status
	s.simulation.Fetched = true
	s.lifecycle.SimulationSettled()
	s.enqueueLocked([]Event{s.eventLocked(EventSimulation, status, "", err)})
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		s.o.logger.InfoContext(s.ctx, "simulation failed",
			"swap_id", s.id,
			"target", s.target.Address,
			"error", err,
		)
	}
	if s.o.cfg.Metrics != nil {
		s.o.cfg.Metrics.RecordSimulation(string(status))
	}
}

func (s *Swap) submit(call Call, prepared *SimulationOutput) {
	handle, err := s.o.cfg.Submitter.Submit(s.ctx, call, prepared)
	if err == nil && handle == "" {
		err = errors.New("submitter returned an empty handle")
	}

	s.mu.Lock()
	if err != nil {
		s.submission = SubmissionResult{Status: StatusError, Err: err}
		s.lifecycle.SubmissionFailed()
		s.enqueueLocked([]Event{s.eventLocked(EventSubmission, StatusError, "", err)})
		s.touchLocked()
		s.mu.Unlock()

		s.o.logger.WarnContext(s.ctx, "submission rejected",
			"swap_id", s.id,
			"target", s.target.Address,
			"error", err,
		)
		if s.o.cfg.Metrics != nil {
			s.o.cfg.Metrics.RecordSubmission(string(StatusError))
		}
		return
	}

	// The handle change and fired-flag reset are applied before the
	// confirmation watch for this handle can report anything.
	s.submission = SubmissionResult{Status: StatusSuccess, Handle: handle}
	s.lifecycle.Submitted(handle)
	s.lifecycle.Confirming(handle)
	s.confirmation = ConfirmationResult{Status: StatusPending, Handle: handle}
	started := s.submittedAt
	s.enqueueLocked([]Event{
		s.eventLocked(EventSubmission, StatusSuccess, handle, nil),
		s.eventLocked(EventConfirmation, StatusPending, handle, nil),
	})
	s.touchLocked()
	s.mu.Unlock()

	s.o.logger.InfoContext(s.ctx, "swap submitted",
		"swap_id", s.id,
		"handle", handle,
	)
	if s.o.cfg.Metrics != nil {
		s.o.cfg.Metrics.RecordSubmission(string(StatusSuccess))
	}

	go s.confirm(handle, started)
}

func (s *Swap) confirm(handle string, started time.Time) {
	receipt, err := s.o.cfg.Confirmer.Confirm(s.ctx, handle, ConfirmOptions{
		SuccessMessage: s.o.cfg.SuccessMessage,
	})

	s.mu.Lock()
	if s.lifecycle.Handle() != handle {
		s.mu.Unlock()
		s.o.logger.DebugContext(s.ctx, "discarding confirmation for superseded handle",
			"swap_id", s.id,
			"handle", handle,
		)
		if s.o.cfg.Metrics != nil {
			s.o.cfg.Metrics.RecordStaleResult("confirmation")
		}
		return
	}

	status := StatusSuccess
	if err != nil {
		status = StatusError
		s.confirmation = ConfirmationResult{Status: StatusError, Handle: handle, Err: err}
		s.lifecycle.Failed(handle)
	} else {
		s.confirmation = ConfirmationResult{Status: StatusSuccess, Handle: handle, Receipt: receipt}
		s.lifecycle.Confirmed(handle)
	}
	events := []Event{s.eventLocked(EventConfirmation, status, handle, err)}
	fire, cb := s.takeFireLocked(&events)
	s.enqueueLocked(events)
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		s.o.logger.WarnContext(s.ctx, "confirmation failed",
			"swap_id", s.id,
			"handle", handle,
			"error", err,
		)
	}
	if s.o.cfg.Metrics != nil {
		s.o.cfg.Metrics.RecordConfirmation(string(status), time.Since(started).Seconds())
	}
	if fire {
		cb()
	}
}

// takeFireLocked consults the lifecycle and, when the callback must run,
// records the fire and returns the callback to invoke after unlocking.
func (s *Swap) takeFireLocked(events *[]Event) (bool, func()) {
	cb := s.params.OnSuccess
	if !s.lifecycle.TakeFire(cb != nil) {
		return false, nil
	}
	s.fired++
	handle := s.lifecycle.Handle()
	*events = append(*events, s.eventLocked(EventCallback, StatusSuccess, handle, nil))

	s.o.logger.InfoContext(s.ctx, "running success callback",
		"swap_id", s.id,
		"handle", handle,
	)
	if s.o.cfg.Metrics != nil {
		s.o.cfg.Metrics.RecordCallbackFired(string(s.target.ChainID))
	}
	return true, cb
}

func (s *Swap) callLocked(amount *big.Int) Call {
	return Call{
		Target:     s.target,
		From:       s.o.sender(),
		Descriptor: s.o.cfg.Call,
		Args:       []any{new(big.Int).Set(amount)},
	}
}

func (s *Swap) eventLocked(kind EventKind, status Status, handle string, err error) Event {
	e := Event{
		SwapID: s.id,
		Target: s.target,
		Amount: amountString(s.params.Amount),
		Kind:   kind,
		Stage:  s.lifecycle.Stage(),
		Status: status,
		Handle: handle,
		Time:   time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.eventSeq++
	e.Seq = s.eventSeq
	return e
}

// enqueueLocked queues events for the observers in Seq order and makes
// sure a deliver goroutine is draining the queue.
func (s *Swap) enqueueLocked(events []Event) {
	if len(events) == 0 || len(s.o.cfg.Observers) == 0 {
		return
	}
	s.outbox = append(s.outbox, events...)
	if !s.delivering {
		s.delivering = true
		go s.deliver()
	}
}

// deliver hands queued events to the observers until the queue is empty.
func (s *Swap) deliver() {
	for {
		s.mu.Lock()
		batch := s.outbox
		s.outbox = nil
		if len(batch) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.o.emit(s.ctx, batch)
	}
}

// touchLocked wakes every WaitFor caller.
func (s *Swap) touchLocked() {
	s.updatedAt = time.Now().UTC()
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Swap) snapshotLocked() Snapshot {
	var amount *big.Int
	if s.params.Amount != nil {
		amount = new(big.Int).Set(s.params.Amount)
	}
	inFlight := s.submission.Status == StatusPending ||
		s.confirmation.Status == StatusPending ||
		(s.simulation.Status == StatusPending && !s.simulation.Fetched)

	return Snapshot{
		ID:           s.id,
		Target:       s.target,
		Amount:       amount,
		Stage:        s.lifecycle.Stage(),
		Simulation:   s.simulation,
		Submission:   s.submission,
		Confirmation: s.confirmation,
		InFlight:     inFlight,
		Fired:        s.fired,
		UpdatedAt:    s.updatedAt,
	}
}
