// Package channel implements the request/response transaction layer over a
// pair of kernel objects: the initiator endpoint that opens transactions and
// the handler endpoint that services them.
//
// Transaction readiness is signaled additively: the layer only ever calls
// Raise and Clear on the shared signal state, never Replace. A User bit
// raised independently during the transaction window therefore survives
// both the Idle→Pending and Pending→Idle transitions.
//
// Every Raise and Clear paired with a state check or transition executes
// inside the channel lock. A readiness update can therefore never fire
// stale after a competing transition: a Begin that observes Idle is
// guaranteed the previous transaction's Clear has already landed, and a
// precondition checked under the lock still holds when its signal lands.
// Raise hands wakeups to parkers with a non-blocking send, so holding the
// channel lock across it cannot block.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
)

// State is the transaction state of a channel.
type State int32

const (
	// Idle means no transaction is outstanding.
	Idle State = iota
	// Pending means a request has been sent and not yet responded to.
	Pending
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Channel is the shared state of an endpoint pair: one outstanding
// transaction at a time, owned by whichever party allocated the pair.
type Channel struct {
	mu       sync.Mutex
	state    State
	request  []byte
	response []byte
	closed   bool

	initiator *Initiator
	handler   *Handler
}

// Initiator is the channel endpoint that opens transactions. Its signal
// state carries Readable when a response is ready.
type Initiator struct {
	base *signal.Base
	ch   *Channel
}

// Handler is the channel endpoint that services transactions. Its signal
// state carries Readable while a request is pending.
type Handler struct {
	base *signal.Base
	ch   *Channel
}

// New allocates a channel pair. Each endpoint owns its signal state and
// holds a non-owning back-reference to its peer via the shared Channel.
func New() (*Initiator, *Handler) {
	ch := &Channel{}
	ch.initiator = &Initiator{base: signal.NewBase(), ch: ch}
	ch.handler = &Handler{base: signal.NewBase(), ch: ch}
	return ch.initiator, ch.handler
}

// State returns the current transaction state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// close tears down both endpoints exactly once. Every waiter on either side
// is force-woken with a cancellation outcome.
func (c *Channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = Idle
	c.request = nil
	c.response = nil
	c.mu.Unlock()

	c.initiator.base.Close()
	c.handler.base.Close()
}

// Signals returns the initiator's signal state.
func (i *Initiator) Signals() *signal.Base { return i.base }

// Channel returns the shared channel state.
func (i *Initiator) Channel() *Channel { return i.ch }

// Close releases the endpoint. The pair is unusable afterwards; no waiter
// on either side is left blocked.
func (i *Initiator) Close() { i.ch.close() }

// RaisePeerUserSignal merges User into the handler's signal state. Valid at
// any time while the channel pair is live.
func (i *Initiator) RaisePeerUserSignal() error {
	i.ch.mu.Lock()
	defer i.ch.mu.Unlock()

	if i.ch.closed {
		return fmt.Errorf("notify peer: channel closed: %w", kerror.ErrFailedPrecondition)
	}
	i.ch.handler.base.Raise(signal.User)
	return nil
}

// Begin opens a transaction: the request becomes readable on the handler
// side and the channel moves Idle→Pending. Fails without mutation if a
// transaction is already outstanding.
//
// Readiness is raised, not replaced, so pending User bits on the handler
// are preserved.
func (i *Initiator) Begin(request []byte) error {
	c := i.ch

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("begin transaction: channel closed: %w", kerror.ErrFailedPrecondition)
	}
	if c.state != Idle || c.response != nil {
		c.mu.Unlock()
		return fmt.Errorf("begin transaction: already pending: %w", kerror.ErrFailedPrecondition)
	}
	c.state = Pending
	c.request = append([]byte(nil), request...)
	c.handler.base.Raise(signal.Readable)
	c.mu.Unlock()

	return nil
}

// Abort cancels an outstanding transaction after a failed wait, lowering
// the readiness bits without touching any other signal. If the response
// raced in before the abort, it is discarded.
//
// Readiness bits are cleared while holding the channel lock so a Begin that
// slips in right after cannot have its fresh Raise erased by a stale Clear.
// Clear wakes nobody, so the wake-outside-lock discipline is unaffected.
func (i *Initiator) Abort() {
	c := i.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Pending {
		c.state = Idle
		c.request = nil
		c.handler.base.Clear(signal.Readable)
	}
	if c.response != nil {
		c.response = nil
		i.base.Clear(signal.Readable)
	}
}

// TakeResponse consumes the completed response and lowers the initiator's
// own readiness bit. Fails if no response is ready.
func (i *Initiator) TakeResponse() ([]byte, error) {
	c := i.ch

	c.mu.Lock()
	if c.response == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("take response: none ready: %w", kerror.ErrFailedPrecondition)
	}
	resp := c.response
	c.response = nil
	i.base.Clear(signal.Readable)
	c.mu.Unlock()

	return resp, nil
}

// Transact runs one full request/response exchange: Begin, wait for the
// response to become readable, TakeResponse. A failed wait aborts the
// transaction so the channel returns to Idle.
func (i *Initiator) Transact(ctx context.Context, request []byte, deadline time.Time) ([]byte, error) {
	if err := i.Begin(request); err != nil {
		return nil, err
	}

	if _, err := i.base.Wait(ctx, signal.Readable, deadline); err != nil {
		i.Abort()
		return nil, fmt.Errorf("transact: %w", err)
	}

	return i.TakeResponse()
}

// Signals returns the handler's signal state.
func (h *Handler) Signals() *signal.Base { return h.base }

// Channel returns the shared channel state.
func (h *Handler) Channel() *Channel { return h.ch }

// Close releases the endpoint. See Initiator.Close.
func (h *Handler) Close() { h.ch.close() }

// RaisePeerUserSignal merges User into the initiator's signal state. Valid
// only while the handler is servicing an active transaction; otherwise it
// fails precondition checking before any mutation occurs.
func (h *Handler) RaisePeerUserSignal() error {
	c := h.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("notify peer: channel closed: %w", kerror.ErrFailedPrecondition)
	}
	if c.state != Pending {
		return fmt.Errorf("notify peer: no active transaction: %w", kerror.ErrFailedPrecondition)
	}
	c.initiator.base.Raise(signal.User)
	return nil
}

// Read copies the pending request starting at offset into buf, returning
// the number of bytes copied. Requires an active transaction.
func (h *Handler) Read(offset int, buf []byte) (int, error) {
	c := h.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Pending {
		return 0, fmt.Errorf("channel read: no active transaction: %w", kerror.ErrFailedPrecondition)
	}
	if offset < 0 || offset > len(c.request) {
		return 0, fmt.Errorf("channel read: offset %d: %w", offset, kerror.ErrOutOfRange)
	}
	return copy(buf, c.request[offset:]), nil
}

// Respond completes the transaction: the response becomes readable on the
// initiator side and the channel moves Pending→Idle. The handler's
// readiness bit is lowered with Clear, never Replace, so a User bit raised
// during the transaction window stays set.
//
// The Clear happens inside the state transition's critical section: a
// concurrent Begin can only observe Idle after the previous transaction's
// readiness bit is already down, so it can never have its fresh Raise
// erased by a stale Clear.
func (h *Handler) Respond(response []byte) error {
	c := h.ch

	c.mu.Lock()
	if c.state != Pending {
		c.mu.Unlock()
		return fmt.Errorf("channel respond: no active transaction: %w", kerror.ErrFailedPrecondition)
	}
	c.state = Idle
	c.request = nil
	c.response = append([]byte(nil), response...)
	h.base.Clear(signal.Readable)
	c.initiator.base.Raise(signal.Readable)
	c.mu.Unlock()

	return nil
}
