package vm

// ---------------------------------------------------------------------------
// RHash: ordered key/value sequence
// ---------------------------------------------------------------------------

// RHash stores entries flat as [k0, v0, k1, v1, ...] in insertion order
// and looks keys up by linear probe. Appropriate for the small tables the
// target hardware sees; no rehashing, no buckets.
type RHash struct {
	refHeader
	a    *Allocator
	blk  int
	data []Value // alternating key, value
}

// NewHash creates an empty hash sized for the given number of pairs.
func (rt *Runtime) NewHash(vmID int, pairs int) (Value, error) {
	if pairs < 2 {
		pairs = 2
	}
	blk := rt.Alloc.Alloc(vmID, pairs*2*valueSlotSize)
	if blk == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	h := &RHash{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		blk:       blk,
		data:      make([]Value, 0, pairs*2),
	}
	return Value{Type: TypeHash, Hsh: h}, nil
}

func (rt *Runtime) hashDelete(h *RHash) {
	for _, v := range h.data {
		rt.Release(v)
	}
	h.data = nil
	rt.Alloc.RawFree(h.blk)
	h.blk = NoAlloc
}

// Len returns the number of key/value pairs.
func (h *RHash) Len() int { return len(h.data) / 2 }

// search returns the index of the key slot holding key, or -1.
func (h *RHash) search(key Value) int {
	for i := 0; i < len(h.data); i += 2 {
		if Compare(h.data[i], key) == 0 {
			return i
		}
	}
	return -1
}

// Get returns the value for key without adjusting refcounts, or nil.
func (h *RHash) Get(key Value) Value {
	if i := h.search(key); i >= 0 {
		return h.data[i+1]
	}
	return NilValue()
}

// Has reports whether key is present.
func (h *RHash) Has(key Value) bool { return h.search(key) >= 0 }

// Set stores key/value, replacing the value of an existing key (the old
// value and the duplicate key are released). The caller passes ownership
// of both arguments.
func (h *RHash) Set(rt *Runtime, key, val Value) error {
	if i := h.search(key); i >= 0 {
		rt.Release(key) // keep the original key object
		rt.Release(h.data[i+1])
		h.data[i+1] = val
		return nil
	}
	if len(h.data)+2 > cap(h.data) {
		if err := h.grow(rt, cap(h.data)*2); err != nil {
			return err
		}
	}
	h.data = append(h.data, key, val)
	return nil
}

func (h *RHash) grow(rt *Runtime, newCap int) error {
	blk := rt.Alloc.Alloc(int(h.vmID), newCap*valueSlotSize)
	if blk == NoAlloc {
		return ErrOutOfMemory
	}
	next := make([]Value, len(h.data), newCap)
	copy(next, h.data)
	rt.Alloc.RawFree(h.blk)
	h.blk = blk
	h.data = next
	return nil
}

func (h *RHash) clearVMID() {
	h.vmID = 0
	h.a.setBlockVMID(h.blk, 0)
	for _, v := range h.data {
		v.clearVMID()
	}
}

// hashCompare orders by key set first, then by the values of the shared
// insertion order. Hashes with equal keys and values compare equal
// regardless of pointer identity.
func hashCompare(a, b *RHash) int {
	if d := a.Len() - b.Len(); d != 0 {
		return d
	}
	for i := 0; i < len(a.data); i += 2 {
		j := b.search(a.data[i])
		if j < 0 {
			return 1
		}
		if c := Compare(a.data[i+1], b.data[j+1]); c != 0 {
			return c
		}
	}
	return 0
}
