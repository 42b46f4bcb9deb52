// Package kerror defines the kernel error taxonomy and its numeric wire codes.
//
// Every failure crossing the syscall boundary is one of the sentinel errors
// below. Codes are stable: they round-trip through the transport trampoline
// as integers and must never be renumbered.
//
// The distinction between ErrInvalidArgument and ErrUnimplemented is
// deliberate: an object that does not support a capability reports
// invalid-argument, a permanent classification, so callers do not retry
// expecting future support.
package kerror

import "errors"

// Code is the numeric error code carried across the user/kernel boundary.
type Code uint32

const (
	CodeOK Code = iota
	CodeOutOfRange
	CodeInvalidArgument
	CodeFailedPrecondition
	CodeDeadlineExceeded
	CodeCancelled
	CodeUnimplemented
	CodeInternal
)

var (
	// ErrOutOfRange indicates a handle that does not resolve to a live object.
	ErrOutOfRange = errors.New("handle out of range")

	// ErrInvalidArgument indicates an object that exists but does not support
	// the requested capability.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFailedPrecondition indicates a supported operation whose current
	// object state does not permit it.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrDeadlineExceeded indicates a wait that timed out.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrCancelled indicates a wait force-woken by object teardown.
	ErrCancelled = errors.New("cancelled")

	// ErrUnimplemented indicates functionality that is recognized but not
	// yet built. Distinct from ErrInvalidArgument.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrInternal indicates a kernel invariant violation.
	ErrInternal = errors.New("internal error")
)

// String returns the symbolic name of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeOutOfRange:
		return "out_of_range"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeFailedPrecondition:
		return "failed_precondition"
	case CodeDeadlineExceeded:
		return "deadline_exceeded"
	case CodeCancelled:
		return "cancelled"
	case CodeUnimplemented:
		return "unimplemented"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// CodeOf maps an error to its wire code. Wrapped errors are unwrapped with
// errors.Is, so dispatcher layers may annotate without changing the code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrOutOfRange):
		return CodeOutOfRange
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrFailedPrecondition):
		return CodeFailedPrecondition
	case errors.Is(err, ErrDeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrUnimplemented):
		return CodeUnimplemented
	default:
		return CodeInternal
	}
}

// FromCode maps a wire code back to its sentinel error. CodeOK yields nil.
func FromCode(c Code) error {
	switch c {
	case CodeOK:
		return nil
	case CodeOutOfRange:
		return ErrOutOfRange
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeFailedPrecondition:
		return ErrFailedPrecondition
	case CodeDeadlineExceeded:
		return ErrDeadlineExceeded
	case CodeCancelled:
		return ErrCancelled
	case CodeUnimplemented:
		return ErrUnimplemented
	default:
		return ErrInternal
	}
}
