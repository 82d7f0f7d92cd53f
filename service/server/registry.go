package server

import (
	"errors"
	"sync"
	"time"

	"github.com/brojonat/capfriends/service/swap"
)

// ErrRegistryFull is returned when every slot holds a swap with work in
// flight.
var ErrRegistryFull = errors.New("too many active swaps")

// registryEntry is a live swap plus the success callback it was created
// with, so re-evaluations keep the same callback.
type registryEntry struct {
	swap      *swap.Swap
	onSuccess func()
}

// Registry holds the swaps created through the API. Swaps with nothing in
// flight are closed and dropped once they have been untouched for the
// TTL, or earlier when a new swap needs the slot.
type Registry struct {
	mu       sync.RWMutex
	swaps    map[string]registryEntry
	maxSwaps int
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates an empty registry. A non-positive maxSwaps or ttl
// disables that bound.
func NewRegistry(maxSwaps int, ttl time.Duration) *Registry {
	return &Registry{
		swaps:    make(map[string]registryEntry),
		maxSwaps: maxSwaps,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *Registry) add(s *swap.Swap, onSuccess func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()
	if r.maxSwaps > 0 && len(r.swaps) >= r.maxSwaps && !r.evictOldestLocked() {
		return ErrRegistryFull
	}
	r.swaps[s.ID()] = registryEntry{swap: s, onSuccess: onSuccess}
	return nil
}

func (r *Registry) get(id string) (registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.swaps[id]
	return e, ok
}

// evictExpiredLocked drops idle swaps untouched for longer than the TTL.
func (r *Registry) evictExpiredLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for id, e := range r.swaps {
		snap := e.swap.Snapshot()
		if !snap.InFlight && snap.UpdatedAt.Before(cutoff) {
			e.swap.Close()
			delete(r.swaps, id)
		}
	}
}

// evictOldestLocked drops the least recently updated idle swap. It
// reports false when every swap has work in flight.
func (r *Registry) evictOldestLocked() bool {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range r.swaps {
		snap := e.swap.Snapshot()
		if snap.InFlight {
			continue
		}
		if oldestID == "" || snap.UpdatedAt.Before(oldest) {
			oldestID, oldest = id, snap.UpdatedAt
		}
	}
	if oldestID == "" {
		return false
	}
	r.swaps[oldestID].swap.Close()
	delete(r.swaps, oldestID)
	return true
}

// Len returns the number of registered swaps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.swaps)
}

// CloseAll closes every registered swap.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.swaps {
		e.swap.Close()
	}
}
