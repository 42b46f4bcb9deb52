// Package object defines the kernel object surface shared by every handle
// target: ownership of one signal state plus optional capabilities probed by
// interface assertion.
//
// Capability probing is deliberate about failure classification: an object
// that does not implement a capability is invalid-argument (permanent, do
// not retry), never unimplemented (missing functionality that may appear).
package object

import "github.com/driftkernel/drift/internal/kernel/signal"

// Object is a kernel object reachable through a handle. Every object owns
// exactly one signal state for its lifetime.
type Object interface {
	// Signals returns the object's signal state. The returned Base is owned
	// by the object and shared with all of the object's signal operations.
	Signals() *signal.Base

	// Close tears the object down, force-waking any registered waiters.
	Close()
}

// PeerNotifier is the "notify peer of a user event" capability. Channel
// endpoints implement it by locating their peer and raising User on the
// peer's signal state.
type PeerNotifier interface {
	// RaisePeerUserSignal merges the User bit into the peer's signal state.
	// Precondition failures return before any mutation.
	RaisePeerUserSignal() error
}

// Event is a standalone signal object with no peer: it supports wait and
// raise against itself but not the peer-notify capability. Used for plain
// notification objects and, in tests, as the canonical capability-less
// handle target.
type Event struct {
	base *signal.Base
}

// NewEvent creates an Event with an empty signal state.
func NewEvent() *Event {
	return &Event{base: signal.NewBase()}
}

// Signals returns the event's signal state.
func (e *Event) Signals() *signal.Base {
	return e.base
}

// Close tears the event down.
func (e *Event) Close() {
	e.base.Close()
}
