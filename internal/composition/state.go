package composition

import (
	"sync/atomic"
	"time"
)

// State is an immutable snapshot of the gateway's composed schema.
// Version advances on every successful compose regardless of whether
// the schema content changed (attempt-counted, not content-hashed).
type State struct {
	Composition *Composition // nil until the first successful compose
	Version     uint64
	ComposedAt  time.Time
	LastError   string
}

// Holder publishes State snapshots via an atomic pointer swap. The
// poller is the only writer; request handlers read snapshots and never
// block the writer.
type Holder struct {
	current atomic.Pointer[State]
}

// NewHolder returns a holder seeded with an empty state.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(&State{})
	return h
}

// Snapshot returns the current state. The returned value must be
// treated as read-only.
func (h *Holder) Snapshot() *State {
	return h.current.Load()
}

// Publish swaps in a new state snapshot. The composition poller is the
// only production writer.
func (h *Holder) Publish(s *State) {
	h.current.Store(s)
}
