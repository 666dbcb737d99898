package vm

// ---------------------------------------------------------------------------
// RRange: endpoint pair with exclusivity flag
// ---------------------------------------------------------------------------

// RRange carries two endpoint values and whether the end is excluded.
type RRange struct {
	refHeader
	a       *Allocator
	blk     int
	First   Value
	Last    Value
	Exclude bool
}

// NewRange creates a range value. The caller passes ownership of both
// endpoints.
func (rt *Runtime) NewRange(vmID int, first, last Value, exclude bool) (Value, error) {
	blk := rt.Alloc.Alloc(vmID, 2*valueSlotSize)
	if blk == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	r := &RRange{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		blk:       blk,
		First:     first,
		Last:      last,
		Exclude:   exclude,
	}
	return Value{Type: TypeRange, Rng: r}, nil
}

func (rt *Runtime) rangeDelete(r *RRange) {
	rt.Release(r.First)
	rt.Release(r.Last)
	rt.Alloc.RawFree(r.blk)
	r.blk = NoAlloc
}

func (r *RRange) clearVMID() {
	r.vmID = 0
	r.a.setBlockVMID(r.blk, 0)
	r.First.clearVMID()
	r.Last.clearVMID()
}

// rangeCompare orders by endpoint pair, then exclusivity.
func rangeCompare(a, b *RRange) int {
	if c := Compare(a.First, b.First); c != 0 {
		return c
	}
	if c := Compare(a.Last, b.Last); c != 0 {
		return c
	}
	switch {
	case a.Exclude == b.Exclude:
		return 0
	case a.Exclude:
		return 1
	}
	return -1
}
