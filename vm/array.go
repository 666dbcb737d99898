package vm

// ---------------------------------------------------------------------------
// RArray: dynamic array
// ---------------------------------------------------------------------------

// valueSlotSize is the per-element pool budget charged by containers whose
// element storage is a Value slice. The slice itself lives on the Go heap;
// the pool block reserves the capacity so allocator statistics and per-VM
// reclamation stay truthful.
const valueSlotSize = 16

const arrayDefaultCap = 4

// RArray is a refcounted dynamic array growing geometrically.
type RArray struct {
	refHeader
	a    *Allocator
	blk  int // accounting block for the current capacity
	data []Value
}

// NewArray creates an empty array with at least the given capacity.
func (rt *Runtime) NewArray(vmID int, capacity int) (Value, error) {
	if capacity < arrayDefaultCap {
		capacity = arrayDefaultCap
	}
	blk := rt.Alloc.Alloc(vmID, capacity*valueSlotSize)
	if blk == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	ary := &RArray{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		blk:       blk,
		data:      make([]Value, 0, capacity),
	}
	return Value{Type: TypeArray, Ary: ary}, nil
}

func (rt *Runtime) arrayDelete(ary *RArray) {
	for _, v := range ary.data {
		rt.Release(v)
	}
	ary.data = nil
	rt.Alloc.RawFree(ary.blk)
	ary.blk = NoAlloc
}

// Len returns the element count.
func (ary *RArray) Len() int { return len(ary.data) }

// Get returns the element at index i without adjusting refcounts.
// Negative indices count from the end; out of range yields nil.
func (ary *RArray) Get(i int64) Value {
	n := int64(len(ary.data))
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return NilValue()
	}
	return ary.data[i]
}

// Set stores v at index i, releasing any previous occupant and extending
// the array with nils as needed. The caller passes ownership of v.
func (ary *RArray) Set(rt *Runtime, i int64, v Value) error {
	n := int64(len(ary.data))
	if i < 0 {
		i += n
	}
	if i < 0 {
		return ErrTypeMismatch
	}
	for int64(len(ary.data)) <= i {
		if err := ary.Push(rt, NilValue()); err != nil {
			return err
		}
	}
	rt.Release(ary.data[i])
	ary.data[i] = v
	return nil
}

// Push appends v, growing the backing store geometrically. The caller
// passes ownership of v.
func (ary *RArray) Push(rt *Runtime, v Value) error {
	if len(ary.data) == cap(ary.data) {
		if err := ary.grow(rt, cap(ary.data)*2); err != nil {
			return err
		}
	}
	ary.data = append(ary.data, v)
	return nil
}

func (ary *RArray) grow(rt *Runtime, newCap int) error {
	blk := rt.Alloc.Alloc(int(ary.vmID), newCap*valueSlotSize)
	if blk == NoAlloc {
		return ErrOutOfMemory
	}
	next := make([]Value, len(ary.data), newCap)
	copy(next, ary.data)
	rt.Alloc.RawFree(ary.blk)
	ary.blk = blk
	ary.data = next
	return nil
}

func (ary *RArray) clearVMID() {
	ary.vmID = 0
	ary.a.setBlockVMID(ary.blk, 0)
	for _, v := range ary.data {
		v.clearVMID()
	}
}

// arrayCompare orders arrays elementwise, shorter-first on a shared
// prefix.
func arrayCompare(a, b *RArray) int {
	n := len(a.data)
	if len(b.data) < n {
		n = len(b.data)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a.data[i], b.data[i]); c != 0 {
			return c
		}
	}
	return len(a.data) - len(b.data)
}
