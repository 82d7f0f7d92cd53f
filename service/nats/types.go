package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/capfriends/service/swap"
)

// SwapEvent represents a swap lifecycle transition published to NATS.
// This is published to the subject "swaps.{target_address}" in JetStream.
type SwapEvent struct {
	// Swap identifiers
	SwapID  string `json:"swap_id"`
	Target  string `json:"target"`
	ChainID string `json:"chain_id,omitempty"`
	Amount  string `json:"amount"`

	// Transition details
	Seq    uint64 `json:"seq"`   // per-swap order, starting at 1
	Kind   string `json:"kind"`  // simulation, submission, confirmation, callback
	Stage  string `json:"stage"` // lifecycle stage after the transition
	Status string `json:"status"`
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject the event is published to.
func (e *SwapEvent) Subject() string {
	return SubjectFor(e.Target)
}

// SubjectFor returns the subject carrying events for one target contract.
func SubjectFor(target string) string {
	return fmt.Sprintf("swaps.%s", target)
}

// FromSwapEvent converts an orchestrator event to a SwapEvent for publishing.
func FromSwapEvent(e swap.Event) *SwapEvent {
	return &SwapEvent{
		SwapID:      e.SwapID,
		Target:      e.Target.Address,
		ChainID:     string(e.Target.ChainID),
		Amount:      e.Amount,
		Seq:         e.Seq,
		Kind:        string(e.Kind),
		Stage:       string(e.Stage),
		Status:      string(e.Status),
		Handle:      e.Handle,
		Error:       e.Error,
		Timestamp:   e.Time,
		PublishedAt: time.Now().UTC(),
	}
}
