package syscall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/infrastructure/monitoring"
	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/object"
	"github.com/driftkernel/drift/internal/kernel/signal"
)

// pair boots a dispatcher with two tasks joined by one channel.
func pair(t *testing.T) (d *Dispatcher, initPID, hndPID uint32, initH, hndH handle.Handle) {
	t.Helper()

	d = NewDispatcher(logging.NewNop()).WithMetrics(monitoring.NewMetrics())
	initPID = d.CreateTask()
	hndPID = d.CreateTask()

	var err error
	initH, hndH, err = d.CreateChannel(initPID, hndPID)
	require.NoError(t, err)
	return d, initPID, hndPID, initH, hndH
}

func TestRaisePeerUserSignalSuccess(t *testing.T) {
	d, initPID, hndPID, initH, hndH := pair(t)

	require.NoError(t, d.RaisePeerUserSignal(context.Background(), initPID, initH))

	// Exactly one merge of User against the peer.
	active, err := d.ObjectSignals(hndPID, hndH)
	require.NoError(t, err)
	assert.Equal(t, signal.User, active)
}

func TestRaisePeerUserSignalUnknownHandle(t *testing.T) {
	d, initPID, hndPID, _, hndH := pair(t)

	err := d.RaisePeerUserSignal(context.Background(), initPID, 0xDEAD)
	require.ErrorIs(t, err, kerror.ErrOutOfRange)

	// No object state was touched.
	active, err := d.ObjectSignals(hndPID, hndH)
	require.NoError(t, err)
	assert.Equal(t, signal.Empty, active)
}

func TestRaisePeerUserSignalUnknownTask(t *testing.T) {
	d, _, _, initH, _ := pair(t)

	err := d.RaisePeerUserSignal(context.Background(), 999, initH)
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)
}

func TestRaisePeerUserSignalUnsupportedCapability(t *testing.T) {
	d, initPID, _, _, _ := pair(t)

	tbl, err := d.Table(initPID)
	require.NoError(t, err)
	evH := tbl.Insert(object.NewEvent())

	err = d.RaisePeerUserSignal(context.Background(), initPID, evH)
	// Invalid-argument, and specifically not unimplemented: permanent
	// incompatibility, callers must not retry expecting future support.
	require.ErrorIs(t, err, kerror.ErrInvalidArgument)
	assert.NotErrorIs(t, err, kerror.ErrUnimplemented)
}

func TestHandlerNotifyOutsideTransaction(t *testing.T) {
	d, initPID, hndPID, initH, hndH := pair(t)

	// Channel is Idle: precondition error, peer signal state unchanged.
	err := d.RaisePeerUserSignal(context.Background(), hndPID, hndH)
	require.ErrorIs(t, err, kerror.ErrFailedPrecondition)

	active, err := d.ObjectSignals(initPID, initH)
	require.NoError(t, err)
	assert.Equal(t, signal.Empty, active)
}

func TestHandlerNotifyDuringTransaction(t *testing.T) {
	d, initPID, hndPID, initH, hndH := pair(t)

	done := make(chan error, 1)
	go func() {
		_, err := d.ChannelTransact(context.Background(), initPID, initH, []byte{1}, time.Now().Add(5*time.Second))
		done <- err
	}()

	// Wait for the transaction to become pending on the handler side.
	_, err := d.ObjectWait(context.Background(), hndPID, hndH, signal.Readable, time.Now().Add(5*time.Second))
	require.NoError(t, err)

	require.NoError(t, d.RaisePeerUserSignal(context.Background(), hndPID, hndH))

	active, err := d.ObjectSignals(initPID, initH)
	require.NoError(t, err)
	assert.True(t, active.Has(signal.User))

	require.NoError(t, d.ChannelRespond(hndPID, hndH, []byte{0}))
	require.NoError(t, <-done)
}

func TestChannelTransactRoundTrip(t *testing.T) {
	d, initPID, hndPID, initH, hndH := pair(t)

	go func() {
		if _, err := d.ObjectWait(context.Background(), hndPID, hndH, signal.Readable, time.Now().Add(5*time.Second)); err != nil {
			return
		}
		buf := make([]byte, 16)
		n, err := d.ChannelRead(hndPID, hndH, 0, buf)
		if err != nil {
			return
		}
		_ = d.ChannelRespond(hndPID, hndH, buf[:n])
	}()

	resp, err := d.ChannelTransact(context.Background(), initPID, initH, []byte{0xBE, 0xEF}, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBE, 0xEF}, resp)
}

func TestChannelTransactWrongEndpoint(t *testing.T) {
	d, _, hndPID, _, hndH := pair(t)

	_, err := d.ChannelTransact(context.Background(), hndPID, hndH, []byte{1}, time.Time{})
	assert.ErrorIs(t, err, kerror.ErrInvalidArgument)
}

func TestChannelReadWrongEndpoint(t *testing.T) {
	d, initPID, _, initH, _ := pair(t)

	_, err := d.ChannelRead(initPID, initH, 0, make([]byte, 4))
	assert.ErrorIs(t, err, kerror.ErrInvalidArgument)
}

func TestObjectWaitPoll(t *testing.T) {
	d, initPID, _, initH, _ := pair(t)

	// Deadline of "now" degrades to a non-blocking point check.
	_, err := d.ObjectWait(context.Background(), initPID, initH, signal.User, time.Now())
	assert.ErrorIs(t, err, kerror.ErrDeadlineExceeded)
}

func TestObjectWaitUnknownHandle(t *testing.T) {
	d, initPID, _, _, _ := pair(t)

	_, err := d.ObjectWait(context.Background(), initPID, 42, signal.User, time.Now())
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)
}
