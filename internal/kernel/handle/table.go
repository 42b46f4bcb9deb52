// Package handle implements the per-task handle table: an arena of kernel
// objects indexed by opaque integer handles. Each task owns one table;
// handles are meaningless outside the table that issued them.
package handle

import (
	"fmt"
	"sync"

	"github.com/driftkernel/drift/internal/kernel/kerror"
	"github.com/driftkernel/drift/internal/kernel/object"
)

// Handle is an opaque, task-scoped reference to a kernel object.
type Handle uint32

// Table maps handles to live objects for one task. Slots are reused through
// a free list so handle values stay small.
type Table struct {
	mu    sync.RWMutex
	slots []object.Object
	free  []Handle
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{}
}

// Insert registers an object and returns its handle. The table holds a
// non-owning reference; closing the object remains the caller's concern
// unless Remove is told otherwise.
func (t *Table) Insert(obj object.Object) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[h] = obj
		return h
	}

	t.slots = append(t.slots, obj)
	return Handle(len(t.slots) - 1)
}

// Resolve looks a handle up. Unknown, out-of-range, and freed handles all
// fail with kerror.ErrOutOfRange and cause no further action.
func (t *Table) Resolve(h Handle) (object.Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(h) >= len(t.slots) || t.slots[h] == nil {
		return nil, fmt.Errorf("resolve handle %d: %w", h, kerror.ErrOutOfRange)
	}
	return t.slots[h], nil
}

// Remove frees a handle slot, returning the object that occupied it so the
// caller can decide about teardown.
func (t *Table) Remove(h Handle) (object.Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h) >= len(t.slots) || t.slots[h] == nil {
		return nil, fmt.Errorf("remove handle %d: %w", h, kerror.ErrOutOfRange)
	}

	obj := t.slots[h]
	t.slots[h] = nil
	t.free = append(t.free, h)
	return obj, nil
}

// Objects returns a snapshot of the live objects in the table.
func (t *Table) Objects() []object.Object {
	t.mu.RLock()
	defer t.mu.RUnlock()

	objs := make([]object.Object, 0, len(t.slots)-len(t.free))
	for _, obj := range t.slots {
		if obj != nil {
			objs = append(objs, obj)
		}
	}
	return objs
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}
