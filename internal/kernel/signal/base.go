// Package signal implements the per-object signal state shared by every
// kernel object: a bitset of active signals plus the list of goroutines
// blocked waiting for them.
//
// Two mutation semantics exist and must not be confused:
//
//   - Replace assigns the active set absolutely, discarding prior bits.
//   - Raise merges bits monotonically (active | mask) and never discards.
//
// Callers toggling transient readiness bits must use Raise and Clear so that
// independently raised bits (such as User) survive; Replace is reserved for
// callers that intend to lose prior state.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/sched"
)

// waiter is one blocked goroutine registered against a Base. The outcome
// fields are written under the Base lock before Unpark and read by the
// waiting goroutine after Park returns; the parker channel orders the two.
type waiter struct {
	mask    Set
	parker  *sched.Parker
	signals Set
	err     error
}

// Base owns the signal state of a single kernel object. One mutex guards
// both the active set and the waiter list; waking parked goroutines happens
// strictly after the mutex is released.
type Base struct {
	mu      sync.Mutex
	active  Set
	waiters *queue.Queue
	closed  bool
}

// NewBase creates a Base with no active signals and no waiters.
func NewBase() *Base {
	return &Base{waiters: queue.New()}
}

// Active returns the current signal set. Non-blocking, safe from any context.
func (b *Base) Active() Set {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// WaiterCount returns the number of registered waiters.
func (b *Base) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiters.Length()
}

// Replace sets the active set to exactly mask, discarding prior bits, then
// wakes every waiter whose mask intersects the new set. Bits previously set
// and absent from mask are lost; callers must intend that loss.
func (b *Base) Replace(mask Set) {
	b.mu.Lock()
	b.active = mask
	woken := b.takeIntersecting(mask)
	b.mu.Unlock()

	wake(woken)
}

// Raise merges mask into the active set (active | mask) and wakes waiters
// whose mask intersects the newly introduced bits. Raise(Empty) is a no-op:
// no mutation, no wakeups. Raising an already-set bit changes nothing.
func (b *Base) Raise(mask Set) {
	if mask == Empty {
		return
	}

	b.mu.Lock()
	fresh := mask &^ b.active
	b.active |= mask
	var woken []*waiter
	if fresh != Empty {
		woken = b.takeIntersecting(fresh)
	}
	b.mu.Unlock()

	wake(woken)
}

// Clear lowers the bits in mask without touching any other bit and wakes
// nobody. The channel transaction layer uses it to drop Readable at
// transaction end without clobbering an independently raised User bit.
func (b *Base) Clear(mask Set) {
	b.mu.Lock()
	b.active &^= mask
	b.mu.Unlock()
}

// Wait blocks until active∩mask is non-empty, the deadline elapses, or the
// object is torn down. On success it returns the active set observed at
// wakeup (or at entry, if already satisfied).
//
// A zero deadline means wait forever; a deadline at or before now degrades
// to a non-blocking poll. Teardown while blocked yields kerror.ErrCancelled,
// never a hang.
func (b *Base) Wait(ctx context.Context, mask Set, deadline time.Time) (Set, error) {
	if mask == Empty {
		return Empty, kerror.ErrInvalidArgument
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Empty, kerror.ErrCancelled
	}
	if b.active.Intersects(mask) {
		observed := b.active
		b.mu.Unlock()
		return observed, nil
	}
	if !deadline.IsZero() && !deadline.After(time.Now()) {
		b.mu.Unlock()
		return Empty, kerror.ErrDeadlineExceeded
	}

	w := &waiter{mask: mask, parker: sched.NewParker()}
	b.waiters.Add(w)
	b.mu.Unlock()

	err := w.parker.Park(ctx, deadline)
	if err == nil {
		return w.signals, w.err
	}

	// Timed out or cancelled: deregister. Losing the removal race means a
	// waker already dequeued us and a wakeup is in flight; honor it.
	b.mu.Lock()
	removed := b.remove(w)
	b.mu.Unlock()
	if removed {
		return Empty, err
	}

	if err := w.parker.Park(context.Background(), time.Time{}); err != nil {
		return Empty, err
	}
	return w.signals, w.err
}

// Close tears the object down: every registered waiter is force-woken with
// kerror.ErrCancelled and later Wait calls fail immediately. Idempotent.
func (b *Base) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	woken := make([]*waiter, 0, b.waiters.Length())
	for b.waiters.Length() > 0 {
		w := b.waiters.Remove().(*waiter)
		w.err = kerror.ErrCancelled
		woken = append(woken, w)
	}
	b.mu.Unlock()

	wake(woken)
}

// takeIntersecting dequeues every waiter whose mask intersects hot and
// records the wake outcome. Caller holds b.mu.
func (b *Base) takeIntersecting(hot Set) []*waiter {
	if hot == Empty || b.waiters.Length() == 0 {
		return nil
	}

	var woken []*waiter
	n := b.waiters.Length()
	for i := 0; i < n; i++ {
		w := b.waiters.Remove().(*waiter)
		if w.mask.Intersects(hot) {
			w.signals = b.active
			woken = append(woken, w)
			continue
		}
		b.waiters.Add(w)
	}
	return woken
}

// remove deregisters one waiter, reporting whether it was still queued.
// Caller holds b.mu.
func (b *Base) remove(target *waiter) bool {
	found := false
	n := b.waiters.Length()
	for i := 0; i < n; i++ {
		w := b.waiters.Remove().(*waiter)
		if w == target {
			found = true
			continue
		}
		b.waiters.Add(w)
	}
	return found
}

// wake unparks outside the object lock so rescheduling never extends lock
// hold time into scheduler internals.
func wake(woken []*waiter) {
	for _, w := range woken {
		w.parker.Unpark()
	}
}
