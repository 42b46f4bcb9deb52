package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
)

func TestTransactRoundTrip(t *testing.T) {
	init, hnd := New()

	// Handler services one transaction in the background.
	go func() {
		_, err := hnd.Signals().Wait(context.Background(), signal.Readable, time.Now().Add(5*time.Second))
		if err != nil {
			return
		}
		buf := make([]byte, 64)
		n, err := hnd.Read(0, buf)
		if err != nil {
			return
		}
		_ = hnd.Respond(buf[:n])
	}()

	resp, err := init.Transact(context.Background(), []byte{0xDE, 0xAD}, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, resp)
	assert.Equal(t, Idle, init.Channel().State())
}

func TestBeginSetsPendingAndReadable(t *testing.T) {
	init, hnd := New()

	require.NoError(t, init.Begin([]byte{1}))
	assert.Equal(t, Pending, init.Channel().State())
	assert.True(t, hnd.Signals().Active().Has(signal.Readable))

	// Only one outstanding transaction.
	err := init.Begin([]byte{2})
	assert.ErrorIs(t, err, kerror.ErrFailedPrecondition)
}

func TestReadRequiresActiveTransaction(t *testing.T) {
	_, hnd := New()

	buf := make([]byte, 8)
	_, err := hnd.Read(0, buf)
	assert.ErrorIs(t, err, kerror.ErrFailedPrecondition)
}

func TestRespondRequiresActiveTransaction(t *testing.T) {
	_, hnd := New()

	err := hnd.Respond([]byte{0})
	assert.ErrorIs(t, err, kerror.ErrFailedPrecondition)
}

func TestReadOffsets(t *testing.T) {
	init, hnd := New()
	require.NoError(t, init.Begin([]byte{1, 2, 3, 4}))

	buf := make([]byte, 8)
	n, err := hnd.Read(2, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4}, buf[:n])

	_, err = hnd.Read(5, buf)
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)
	_, err = hnd.Read(-1, buf)
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)
}

func TestInitiatorNotifyAlwaysValid(t *testing.T) {
	init, hnd := New()

	require.NoError(t, init.RaisePeerUserSignal())
	assert.True(t, hnd.Signals().Active().Has(signal.User))

	// Also valid mid-transaction.
	require.NoError(t, init.Begin([]byte{1}))
	require.NoError(t, init.RaisePeerUserSignal())
}

func TestHandlerNotifyRequiresPending(t *testing.T) {
	init, hnd := New()

	// Channel Idle: precondition fails before any mutation.
	err := hnd.RaisePeerUserSignal()
	assert.ErrorIs(t, err, kerror.ErrFailedPrecondition)
	assert.Equal(t, signal.Empty, init.Signals().Active())

	require.NoError(t, init.Begin([]byte{1}))
	require.NoError(t, hnd.RaisePeerUserSignal())
	assert.True(t, init.Signals().Active().Has(signal.User))
}

func TestTransactionPreservesIndependentUserBit(t *testing.T) {
	// Regression guard: readiness toggling must never clear a User bit
	// raised independently during the transaction window.
	init, hnd := New()

	require.NoError(t, init.RaisePeerUserSignal())
	require.True(t, hnd.Signals().Active().Has(signal.User))

	require.NoError(t, init.Begin([]byte{42}))
	buf := make([]byte, 4)
	_, err := hnd.Read(0, buf)
	require.NoError(t, err)
	require.NoError(t, hnd.Respond([]byte{0}))

	assert.True(t, hnd.Signals().Active().Has(signal.User),
		"transaction boundary clobbered the user notification bit")
	assert.False(t, hnd.Signals().Active().Has(signal.Readable))
}

func TestUserBitRaisedWhilePendingSurvivesCompletion(t *testing.T) {
	init, hnd := New()

	require.NoError(t, init.Begin([]byte{1}))
	require.NoError(t, init.RaisePeerUserSignal())
	require.NoError(t, hnd.Respond([]byte{0}))

	assert.True(t, hnd.Signals().Active().Has(signal.User))
}

func TestConcurrentTransactionsNeverLoseWakeup(t *testing.T) {
	// A Begin racing the tail of a Respond (or Abort) must never have its
	// fresh Readable raise erased by the previous transaction's Clear, and
	// must never destroy a not-yet-consumed response. A lost wakeup shows
	// up here as a deadline-exceeded transact; a destroyed response as a
	// mismatched or missing reply.
	init, hnd := New()

	serveCtx, stopServe := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		for {
			if _, err := hnd.Signals().Wait(serveCtx, signal.Readable, time.Time{}); err != nil {
				return
			}
			buf := make([]byte, 8)
			n, err := hnd.Read(0, buf)
			if err != nil {
				// Aborted between wake and read.
				continue
			}
			_ = hnd.Respond(buf[:n])
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			payload := []byte{tag}
			completed := 0
			for completed < 200 {
				resp, err := init.Transact(context.Background(), payload, time.Now().Add(5*time.Second))
				if err != nil {
					if kerror.CodeOf(err) == kerror.CodeFailedPrecondition {
						// Lost the begin race to a sibling.
						continue
					}
					t.Errorf("transact %d: %v", tag, err)
					return
				}
				if len(resp) != 1 || resp[0] != tag {
					t.Errorf("transact %d: got response %v", tag, resp)
					return
				}
				completed++
			}
		}(byte(g + 1))
	}

	wg.Wait()
	stopServe()
	init.Close()
	<-served
}

func TestBeginRefusedWhileResponseUnconsumed(t *testing.T) {
	init, hnd := New()

	require.NoError(t, init.Begin([]byte{1}))
	require.NoError(t, hnd.Respond([]byte{2}))

	// Idle again, but the response is still held; a new transaction would
	// destroy it.
	err := init.Begin([]byte{3})
	assert.ErrorIs(t, err, kerror.ErrFailedPrecondition)

	resp, err := init.TakeResponse()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, resp)

	require.NoError(t, init.Begin([]byte{3}))
}

func TestRespondWakesInitiator(t *testing.T) {
	init, hnd := New()
	require.NoError(t, init.Begin([]byte{7}))

	done := make(chan error, 1)
	go func() {
		_, err := init.Signals().Wait(context.Background(), signal.Readable, time.Now().Add(5*time.Second))
		done <- err
	}()

	require.NoError(t, hnd.Respond([]byte{7}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("respond did not wake the initiator")
	}
}

func TestTransactDeadlineAborts(t *testing.T) {
	init, hnd := New()

	_, err := init.Transact(context.Background(), []byte{1}, time.Now().Add(30*time.Millisecond))
	require.ErrorIs(t, err, kerror.ErrDeadlineExceeded)

	// The abort returned the channel to Idle and lowered readiness.
	assert.Equal(t, Idle, init.Channel().State())
	assert.False(t, hnd.Signals().Active().Has(signal.Readable))
}

func TestCloseWakesPeerWaiters(t *testing.T) {
	init, hnd := New()

	done := make(chan error, 1)
	go func() {
		_, err := hnd.Signals().Wait(context.Background(), signal.Readable, time.Time{})
		done <- err
	}()

	waitForWaiter(t, hnd.Signals())
	init.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, kerror.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("handler waiter left blocked after teardown")
	}

	assert.ErrorIs(t, init.Begin([]byte{1}), kerror.ErrFailedPrecondition)
	assert.ErrorIs(t, init.RaisePeerUserSignal(), kerror.ErrFailedPrecondition)
}

func waitForWaiter(t *testing.T, b *signal.Base) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.WaiterCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}
}
