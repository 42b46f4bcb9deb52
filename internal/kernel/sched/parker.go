// Package sched provides the scheduler-facing suspension primitive used by
// the signal core. A Parker suspends exactly one goroutine until it is
// unparked, a deadline elapses, or the surrounding context is cancelled.
//
// The signal core registers a Parker under its object lock but always parks
// and unparks outside it, keeping scheduler interaction out of lock critical
// sections.
package sched

import (
	"context"
	"time"

	"github.com/driftkernel/drift/internal/kernel/kerror"
)

// Parker is a one-shot wakeup slot for a single waiting goroutine.
// Unpark is safe to call from any goroutine and at most one wakeup is
// retained, so an unpark that races a timeout is never lost.
type Parker struct {
	ch chan struct{}
}

// NewParker creates an unparked Parker.
func NewParker() *Parker {
	return &Parker{ch: make(chan struct{}, 1)}
}

// Unpark wakes the parked goroutine, or records the wakeup if none is
// parked yet. Idempotent: extra unparks collapse into one.
func (p *Parker) Unpark() {
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

// Park suspends the caller until Unpark, the deadline, or ctx cancellation.
//
// A zero deadline means no deadline. A deadline at or before now degrades to
// a non-blocking poll: Park consumes a pending wakeup if one exists and
// otherwise returns kerror.ErrDeadlineExceeded immediately.
func (p *Parker) Park(ctx context.Context, deadline time.Time) error {
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			select {
			case <-p.ch:
				return nil
			default:
				return kerror.ErrDeadlineExceeded
			}
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-p.ch:
			return nil
		case <-timer.C:
			return kerror.ErrDeadlineExceeded
		case <-ctx.Done():
			return kerror.ErrCancelled
		}
	}

	select {
	case <-p.ch:
		return nil
	case <-ctx.Done():
		return kerror.ErrCancelled
	}
}

// tryConsume consumes a pending wakeup without blocking, reporting whether
// one was pending. Callers that must not miss an in-flight wakeup re-park
// instead: the waker delivers its Unpark after releasing the registration
// lock, so a pending wakeup may not be observable yet.
func (p *Parker) tryConsume() bool {
	select {
	case <-p.ch:
		return true
	default:
		return false
	}
}
