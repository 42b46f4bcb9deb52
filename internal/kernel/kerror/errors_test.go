package kerror

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeRoundTrip(t *testing.T) {
	errs := []error{
		ErrOutOfRange,
		ErrInvalidArgument,
		ErrFailedPrecondition,
		ErrDeadlineExceeded,
		ErrCancelled,
		ErrUnimplemented,
		ErrInternal,
	}

	for _, err := range errs {
		t.Run(CodeOf(err).String(), func(t *testing.T) {
			assert.ErrorIs(t, FromCode(CodeOf(err)), err)
		})
	}

	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.NoError(t, FromCode(CodeOK))
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("resolve handle 42: %w", ErrOutOfRange)
	assert.Equal(t, CodeOutOfRange, CodeOf(err))
}

func TestUnsupportedCapabilityIsNotUnimplemented(t *testing.T) {
	// The two classifications must stay distinct on the wire.
	assert.NotEqual(t, CodeOf(ErrInvalidArgument), CodeOf(ErrUnimplemented))
}

func TestUnknownErrorMapsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("unclassified")))
}
