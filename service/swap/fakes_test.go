package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// upperCodec treats any "0x"-prefixed string as an address and
// canonicalizes it to upper case.
type upperCodec struct{}

func (upperCodec) Normalize(raw string) (string, error) {
	if !strings.HasPrefix(raw, "0x") || len(raw) < 4 {
		return "", fmt.Errorf("invalid address %q", raw)
	}
	return "0x" + strings.ToUpper(raw[2:]), nil
}

func (upperCodec) Zero() string { return "0x0000" }

type fakeSession struct {
	chainID ChainID
	address string
}

func (s *fakeSession) ChainID() (ChainID, bool) {
	return s.chainID, s.chainID != ""
}

func (s *fakeSession) Address() string { return s.address }

type fakeDescriptor struct{ name string }

func (d fakeDescriptor) Name() string { return d.name }

func (d fakeDescriptor) Encode(args ...any) ([]byte, error) {
	return []byte(fmt.Sprint(args...)), nil
}

type simReply struct {
	out *SimulationOutput
	err error
}

// fakeSimulator records every call. It answers immediately with out/err
// unless blocking is set, in which case each call waits for Resolve.
type fakeSimulator struct {
	mu       sync.Mutex
	calls    []Call
	out      *SimulationOutput
	err      error
	blocking bool
	pending  []chan simReply
}

func (f *fakeSimulator) Simulate(ctx context.Context, call Call) (*SimulationOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	if !f.blocking {
		defer f.mu.Unlock()
		return f.out, f.err
	}
	ch := make(chan simReply, 1)
	f.pending = append(f.pending, ch)
	f.mu.Unlock()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve answers the i-th blocking call.
func (f *fakeSimulator) Resolve(i int, r simReply) {
	f.mu.Lock()
	ch := f.pending[i]
	f.mu.Unlock()
	ch <- r
}

func (f *fakeSimulator) SetResult(out *SimulationOutput, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out, f.err = out, err
}

func (f *fakeSimulator) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

type submitReply struct {
	handle string
	err    error
}

// fakeSubmitter blocks each Submit until the test sends a reply.
type fakeSubmitter struct {
	replies  chan submitReply
	mu       sync.Mutex
	prepared []*SimulationOutput
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{replies: make(chan submitReply)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, call Call, prepared *SimulationOutput) (string, error) {
	f.mu.Lock()
	f.prepared = append(f.prepared, prepared)
	f.mu.Unlock()

	select {
	case r := <-f.replies:
		return r.handle, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeSubmitter) Prepared() []*SimulationOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*SimulationOutput(nil), f.prepared...)
}

// fakeConfirmer blocks each Confirm until the test resolves that handle.
type fakeConfirmer struct {
	mu      sync.Mutex
	pending map[string]chan error
	opts    []ConfirmOptions
}

func newFakeConfirmer() *fakeConfirmer {
	return &fakeConfirmer{pending: make(map[string]chan error)}
}

func (f *fakeConfirmer) ch(handle string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.pending[handle]
	if !ok {
		c = make(chan error, 1)
		f.pending[handle] = c
	}
	return c
}

func (f *fakeConfirmer) Confirm(ctx context.Context, handle string, opts ConfirmOptions) (*Receipt, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	select {
	case err := <-f.ch(handle):
		if err != nil {
			return nil, err
		}
		return &Receipt{Handle: handle, Block: 42}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConfirmer) Resolve(handle string, err error) {
	f.ch(handle) <- err
}

type harness struct {
	orch      *Orchestrator
	sim       *fakeSimulator
	submitter *fakeSubmitter
	confirmer *fakeConfirmer
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnSwapEvent(ctx context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) Count(kind EventKind, status Status) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind && e.Status == status {
			n++
		}
	}
	return n
}

func newHarness(t *testing.T, observers ...Observer) *harness {
	t.Helper()

	h := &harness{
		sim:       &fakeSimulator{out: &SimulationOutput{ReturnData: []byte{0x01}, GasLimit: 21000}},
		submitter: newFakeSubmitter(),
		confirmer: newFakeConfirmer(),
		events:    &eventLog{},
	}

	orch, err := New(Config{
		Session:   &fakeSession{chainID: "8453", address: "0xSENDER"},
		Codec:     upperCodec{},
		Call:      fakeDescriptor{name: "buyToken"},
		Simulator: h.sim,
		Submitter: h.submitter,
		Confirmer: h.confirmer,
		Observers: append([]Observer{h.events}, observers...),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

var errRejected = errors.New("user rejected the request")

func amount(v int64) *big.Int { return big.NewInt(v) }
