// Package transport abstracts the per-architecture syscall trampoline: the
// mechanism that marshals a handle into raw register words on the user side
// and a result word back across the privilege boundary. The core requires
// only that an implementation deliver the handle unmodified and propagate
// the error code unmodified.
package transport

import (
	"context"

	"github.com/driftkernel/drift/internal/kernel/handle"
	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/signal"
)

// Number identifies a syscall on the wire.
type Number uint64

const (
	// NumRaisePeerUserSignal raises User on the peer of a channel endpoint.
	NumRaisePeerUserSignal Number = 0x10
	// NumObjectSignals reads an object's active signal set.
	NumObjectSignals Number = 0x11
)

// RawArgs are the argument register words for one syscall.
type RawArgs [2]uint64

// RawResult is the result register word: the kernel error code in the low
// 32 bits, an optional payload value in the high 32 bits.
type RawResult uint64

// Trampoline is one architecture's trap mechanism.
type Trampoline interface {
	// Invoke traps into the kernel with marshaled arguments.
	Invoke(ctx context.Context, num Number, args RawArgs) RawResult
}

// Encode marshals a handle into argument registers.
func Encode(h handle.Handle) RawArgs {
	return RawArgs{uint64(h), 0}
}

// DecodeHandle recovers the handle from argument registers.
func DecodeHandle(args RawArgs) handle.Handle {
	return handle.Handle(args[0])
}

// EncodeResult packs an error and payload into the result register.
func EncodeResult(err error, value uint32) RawResult {
	return RawResult(uint64(kerror.CodeOf(err)) | uint64(value)<<32)
}

// Decode unpacks the result register into an error. Nil on success.
func Decode(res RawResult) error {
	return kerror.FromCode(kerror.Code(res & 0xFFFFFFFF))
}

// DecodeValue extracts the payload word from a result register.
func DecodeValue(res RawResult) uint32 {
	return uint32(res >> 32)
}

// RaisePeerUserSignal invokes the peer-notify syscall through a trampoline.
func RaisePeerUserSignal(ctx context.Context, tr Trampoline, h handle.Handle) error {
	return Decode(tr.Invoke(ctx, NumRaisePeerUserSignal, Encode(h)))
}

// ObjectSignals reads an object's active signal set through a trampoline.
func ObjectSignals(ctx context.Context, tr Trampoline, h handle.Handle) (signal.Set, error) {
	res := tr.Invoke(ctx, NumObjectSignals, Encode(h))
	if err := Decode(res); err != nil {
		return signal.Empty, err
	}
	return signal.Set(DecodeValue(res)), nil
}
