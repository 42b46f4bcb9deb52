package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/object"
)

func TestInsertResolve(t *testing.T) {
	tbl := NewTable()
	ev := object.NewEvent()

	h := tbl.Insert(ev)

	got, err := tbl.Resolve(h)
	require.NoError(t, err)
	assert.Same(t, object.Object(ev), got)
	assert.Equal(t, 1, tbl.Len())
}

func TestResolveUnknownHandle(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(object.NewEvent())

	tests := []struct {
		name string
		h    Handle
	}{
		{"out of range", 99},
		{"way out of range", 0xDEAD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tbl.Resolve(tt.h)
			assert.ErrorIs(t, err, kerror.ErrOutOfRange)
		})
	}
}

func TestRemoveFreesSlot(t *testing.T) {
	tbl := NewTable()
	h := tbl.Insert(object.NewEvent())

	_, err := tbl.Remove(h)
	require.NoError(t, err)

	_, err = tbl.Resolve(h)
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)

	_, err = tbl.Remove(h)
	assert.ErrorIs(t, err, kerror.ErrOutOfRange)
	assert.Equal(t, 0, tbl.Len())
}

func TestSlotReuse(t *testing.T) {
	tbl := NewTable()
	h := tbl.Insert(object.NewEvent())

	_, err := tbl.Remove(h)
	require.NoError(t, err)

	reused := tbl.Insert(object.NewEvent())
	assert.Equal(t, h, reused)
}
