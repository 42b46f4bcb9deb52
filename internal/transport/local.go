package transport

import (
	"context"
	"fmt"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/syscall"
)

func errUnknownSyscall(num Number) error {
	return fmt.Errorf("syscall %#x: %w", uint64(num), kerror.ErrUnimplemented)
}

// Local is the same-address-space trampoline: no trap instruction, just a
// direct call into the dispatcher on behalf of one task. It still routes
// through the raw-register marshaling so the encode/decode contract is
// exercised identically to a hardware target.
type Local struct {
	dispatcher *syscall.Dispatcher
	pid        uint32
}

// NewLocal creates a trampoline bound to one task.
func NewLocal(d *syscall.Dispatcher, pid uint32) *Local {
	return &Local{dispatcher: d, pid: pid}
}

// Invoke dispatches the syscall directly.
func (l *Local) Invoke(ctx context.Context, num Number, args RawArgs) RawResult {
	h := DecodeHandle(args)

	switch num {
	case NumRaisePeerUserSignal:
		return EncodeResult(l.dispatcher.RaisePeerUserSignal(ctx, l.pid, h), 0)
	case NumObjectSignals:
		active, err := l.dispatcher.ObjectSignals(l.pid, h)
		return EncodeResult(err, uint32(active))
	default:
		return EncodeResult(errUnknownSyscall(num), 0)
	}
}
