// Package registry implements the fixed-capacity, append-only event buffer
// the tracer records into. A registry never allocates after construction
// and is not safe for concurrent use: callers serialize access through a
// critical section.
package registry

import (
	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/span"
)

// Policy selects what happens when the last free slot is written.
type Policy uint8

const (
	// PolicyReject fires the ready callback and rejects further adds with
	// domain.ErrBufferFull until the registry is reset.
	PolicyReject Policy = iota
	// PolicyAutoReset fires the ready callback and then rewinds the
	// registry (soft reset) so recording continues in place.
	PolicyAutoReset
)

// Registry is a flat array of events plus a write cursor.
type Registry struct {
	events []domain.Event
	next   int

	firstTS  uint64
	hasEpoch bool

	ready  callback.Func[*Registry]
	policy Policy

	owned  bool
	closed bool
}

// Owned reports whether the registry allocated its storage itself.
func (r *Registry) Owned() bool { return r.owned }

// New creates a registry over caller owned storage.
func New(storage span.Span[domain.Event]) *Registry {
	if !storage.Valid() {
		panic("registry: storage must hold at least one event")
	}
	return &Registry{events: storage.Data()}
}

// NewOwned creates a registry that allocates its own storage.
func NewOwned(capacity int) *Registry {
	if capacity <= 0 {
		panic("registry: capacity must be positive")
	}
	r := New(span.New(make([]domain.Event, capacity)))
	r.owned = true
	return r
}

// SetReadyCallback installs the callback invoked when the registry becomes
// full. The callback receives the registry itself and may reset it.
func (r *Registry) SetReadyCallback(cb callback.Func[*Registry]) {
	r.ready = cb
}

// SetPolicy changes the full-buffer policy.
func (r *Registry) SetPolicy(p Policy) {
	r.policy = p
}

// SetStartTimestamp fixes the epoch. Events older than ts are dropped.
func (r *Registry) SetStartTimestamp(ts uint64) {
	r.firstTS = ts
	r.hasEpoch = true
}

// StartTimestamp returns the epoch, if one is set.
func (r *Registry) StartTimestamp() (uint64, bool) {
	return r.firstTS, r.hasEpoch
}

// Admits reports whether an event stamped ts would be stored by Add.
func (r *Registry) Admits(ts uint64) bool {
	if r.next == len(r.events) {
		return false
	}
	return !r.hasEpoch || ts >= r.firstTS
}

// Add appends e. The first event after a hard reset establishes the epoch;
// events stamped before the epoch are dropped silently. The stored
// timestamp is relative to the epoch.
//
// When e takes the last slot the ready callback runs after the write. Add
// does not touch the registry once the callback returned, so the callback
// is free to reset it.
func (r *Registry) Add(e domain.Event) error {
	if r.hasEpoch && e.TS < r.firstTS {
		return nil
	}
	if r.next == len(r.events) {
		return domain.ErrBufferFull
	}
	if !r.hasEpoch {
		r.SetStartTimestamp(e.TS)
	}

	e.TS = (e.TS - r.firstTS) & domain.TimestampMask
	r.events[r.next] = e
	r.next++

	if r.next < len(r.events) {
		return nil
	}
	if r.ready.Valid() {
		r.ready.Call(r)
	}
	if r.policy == PolicyAutoReset {
		r.Reset(false)
	}
	return nil
}

// Reset rewinds the write cursor. A hard reset also forgets the epoch.
func (r *Registry) Reset(hard bool) {
	r.next = 0
	if hard {
		r.firstTS = 0
		r.hasEpoch = false
	}
}

// Empty reports whether no events are stored.
func (r *Registry) Empty() bool { return r.next == 0 }

// Full reports whether every slot is taken.
func (r *Registry) Full() bool { return r.next == len(r.events) }

// Len returns the number of stored events.
func (r *Registry) Len() int { return r.next }

// Cap returns the capacity.
func (r *Registry) Cap() int { return len(r.events) }

// Events returns the stored events in insertion order. The slice aliases
// the registry storage and is only valid until the next reset.
func (r *Registry) Events() []domain.Event {
	return r.events[:r.next]
}

// Close flushes unconsumed events through the ready callback once and
// drops the storage. A closed registry rejects every Add.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	r.closed = true

	if !r.Empty() && r.ready.Valid() {
		r.ready.Call(r)
	}
	r.events = nil
	r.next = 0
}
