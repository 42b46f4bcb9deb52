// Package syscall implements the architecture-neutral syscall dispatcher:
// it resolves task-scoped handles, enforces capability and precondition
// checks, invokes the object operation, and converts the result to a kernel
// error code. Validation happens strictly before mutation, so no failing
// path ever leaves state partially changed.
package syscall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftkernel/drift/internal/infrastructure/logging"
	"github.com/driftkernel/drift/internal/infrastructure/monitoring"
	"github.com/driftkernel/drift/internal/kernel/channel"
	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/object"
	"github.com/driftkernel/drift/internal/kernel/signal"
)

// Syscall names used for logging and metrics labels.
const (
	SysRaisePeerUserSignal = "raise_peer_user_signal"
	SysObjectWait          = "object_wait"
	SysObjectSignals       = "object_signals"
	SysChannelTransact     = "channel_transact"
	SysChannelRead         = "channel_read"
	SysChannelRespond      = "channel_respond"
)

// Dispatcher owns the per-task handle tables and the syscall entry points.
// Methods are pid-scoped: the pid selects the handle table the way the
// calling task would select it by trapping into the kernel.
type Dispatcher struct {
	mu      sync.RWMutex
	tasks   map[uint32]*handle.Table
	nextPID uint32

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewDispatcher creates a dispatcher with no tasks.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		tasks:  make(map[uint32]*handle.Table),
		logger: logger.Subsystem("syscall"),
	}
}

// WithMetrics attaches a metrics collector.
func (d *Dispatcher) WithMetrics(m *monitoring.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// CreateTask allocates a task with an empty handle table and returns its pid.
func (d *Dispatcher) CreateTask() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextPID++
	pid := d.nextPID
	d.tasks[pid] = handle.NewTable()
	d.logger.Debug("task created", zap.Uint32("pid", pid))
	return pid
}

// Table returns the handle table of a task. Unknown pids fail with the
// range error, matching unknown handles.
func (d *Dispatcher) Table(pid uint32) (*handle.Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tbl, ok := d.tasks[pid]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", pid, kerror.ErrOutOfRange)
	}
	return tbl, nil
}

// RaisePeerUserSignal is the peer-notify syscall entry point.
//
// Steps, in order, with no mutation before the last: resolve the handle
// (range error), probe the peer-notify capability (invalid-argument, never
// unimplemented), invoke the operation (precondition errors surface from
// the object). On success the observable side effect is exactly one merge
// of the User bit on the peer's signal state.
func (d *Dispatcher) RaisePeerUserSignal(ctx context.Context, pid uint32, h handle.Handle) (err error) {
	defer d.observe(SysRaisePeerUserSignal, time.Now(), &err)

	obj, err := d.resolve(pid, h)
	if err != nil {
		return err
	}

	notifier, ok := obj.(object.PeerNotifier)
	if !ok {
		return fmt.Errorf("handle %d does not support peer notification: %w", h, kerror.ErrInvalidArgument)
	}

	if err := notifier.RaisePeerUserSignal(); err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.SignalRaises.Inc()
	}
	d.logger.Debug("peer user signal raised", zap.Uint32("pid", pid), zap.Uint32("handle", uint32(h)))
	return nil
}

// ObjectWait blocks the calling task until the object's active signals
// intersect mask, the deadline elapses, or the object is torn down. A zero
// deadline waits forever; a deadline at or before now is a non-blocking
// poll.
func (d *Dispatcher) ObjectWait(ctx context.Context, pid uint32, h handle.Handle, mask signal.Set, deadline time.Time) (observed signal.Set, err error) {
	defer d.observe(SysObjectWait, time.Now(), &err)

	obj, err := d.resolve(pid, h)
	if err != nil {
		return signal.Empty, err
	}

	observed, err = obj.Signals().Wait(ctx, mask, deadline)
	if d.metrics != nil {
		d.metrics.RecordWake(wakeCause(err))
	}
	return observed, err
}

// ObjectSignals reads the object's active signal set without blocking.
func (d *Dispatcher) ObjectSignals(pid uint32, h handle.Handle) (active signal.Set, err error) {
	defer d.observe(SysObjectSignals, time.Now(), &err)

	obj, err := d.resolve(pid, h)
	if err != nil {
		return signal.Empty, err
	}
	return obj.Signals().Active(), nil
}

// ChannelTransact runs one request/response exchange over the channel whose
// initiator endpoint the handle names.
func (d *Dispatcher) ChannelTransact(ctx context.Context, pid uint32, h handle.Handle, request []byte, deadline time.Time) (response []byte, err error) {
	defer d.observe(SysChannelTransact, time.Now(), &err)

	obj, err := d.resolve(pid, h)
	if err != nil {
		return nil, err
	}

	init, ok := obj.(*channel.Initiator)
	if !ok {
		return nil, fmt.Errorf("handle %d is not a channel initiator: %w", h, kerror.ErrInvalidArgument)
	}

	if d.metrics != nil {
		d.metrics.TransactionsPending.Inc()
		start := time.Now()
		defer func() {
			d.metrics.TransactionsPending.Dec()
			d.metrics.TransactionDuration.Observe(time.Since(start).Seconds())
		}()
	}

	return init.Transact(ctx, request, deadline)
}

// ChannelRead copies the pending request on the handler endpoint into buf.
func (d *Dispatcher) ChannelRead(pid uint32, h handle.Handle, offset int, buf []byte) (n int, err error) {
	defer d.observe(SysChannelRead, time.Now(), &err)

	hnd, err := d.resolveHandler(pid, h)
	if err != nil {
		return 0, err
	}
	return hnd.Read(offset, buf)
}

// ChannelRespond completes the pending transaction on the handler endpoint.
func (d *Dispatcher) ChannelRespond(pid uint32, h handle.Handle, response []byte) (err error) {
	defer d.observe(SysChannelRespond, time.Now(), &err)

	hnd, err := d.resolveHandler(pid, h)
	if err != nil {
		return err
	}
	return hnd.Respond(response)
}

// CreateChannel allocates a channel pair, registering the initiator with
// one task and the handler with another. Returns the two handles.
func (d *Dispatcher) CreateChannel(initiatorPID, handlerPID uint32) (handle.Handle, handle.Handle, error) {
	initTbl, err := d.Table(initiatorPID)
	if err != nil {
		return 0, 0, err
	}
	hndTbl, err := d.Table(handlerPID)
	if err != nil {
		return 0, 0, err
	}

	init, hnd := channel.New()
	ih := initTbl.Insert(init)
	hh := hndTbl.Insert(hnd)

	d.logger.Info("channel created",
		zap.Uint32("initiator_pid", initiatorPID),
		zap.Uint32("handler_pid", handlerPID),
		zap.Uint32("initiator_handle", uint32(ih)),
		zap.Uint32("handler_handle", uint32(hh)),
	)
	return ih, hh, nil
}

// Insert registers an arbitrary object with a task, for kernel-side wiring.
func (d *Dispatcher) Insert(pid uint32, obj object.Object) (handle.Handle, error) {
	tbl, err := d.Table(pid)
	if err != nil {
		return 0, err
	}
	return tbl.Insert(obj), nil
}

// Close tears down every object in every task, forcing blocked waiters
// awake with the cancellation error. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for pid, tbl := range d.tasks {
		for _, obj := range tbl.Objects() {
			obj.Close()
		}
		delete(d.tasks, pid)
	}
}

func (d *Dispatcher) resolve(pid uint32, h handle.Handle) (object.Object, error) {
	tbl, err := d.Table(pid)
	if err != nil {
		return nil, err
	}
	return tbl.Resolve(h)
}

func (d *Dispatcher) resolveHandler(pid uint32, h handle.Handle) (*channel.Handler, error) {
	obj, err := d.resolve(pid, h)
	if err != nil {
		return nil, err
	}
	hnd, ok := obj.(*channel.Handler)
	if !ok {
		return nil, fmt.Errorf("handle %d is not a channel handler: %w", h, kerror.ErrInvalidArgument)
	}
	return hnd, nil
}

// observe records duration and result code for one syscall.
func (d *Dispatcher) observe(name string, start time.Time, err *error) {
	code := kerror.CodeOf(*err)
	if d.metrics != nil {
		d.metrics.RecordSyscall(name, code.String(), time.Since(start))
	}
	if *err != nil && code == kerror.CodeInternal {
		d.logger.Error("syscall failed", zap.String("syscall", name), zap.Error(*err))
	}
}

func wakeCause(err error) string {
	switch kerror.CodeOf(err) {
	case kerror.CodeOK:
		return "signal"
	case kerror.CodeDeadlineExceeded:
		return "timeout"
	case kerror.CodeCancelled:
		return "cancelled"
	default:
		return "error"
	}
}
