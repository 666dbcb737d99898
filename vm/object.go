package vm

// ---------------------------------------------------------------------------
// RObject: class instances
// ---------------------------------------------------------------------------

// ivar is one instance-variable binding.
type ivar struct {
	sym SymID
	val Value
}

// RObject is an instance: class pointer, refcount header, and a small
// linear instance-variable list.
type RObject struct {
	refHeader
	a     *Allocator
	Cls   *RClass
	blk   int
	ivars []ivar
}

// NewInstance creates an instance of cls owned by vmID.
func (rt *Runtime) NewInstance(vmID int, cls *RClass) (Value, error) {
	blk := rt.Alloc.Alloc(vmID, 2*valueSlotSize)
	if blk == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	o := &RObject{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		Cls:       cls,
		blk:       blk,
	}
	return Value{Type: TypeObject, Obj: o}, nil
}

func (rt *Runtime) instanceDelete(o *RObject) {
	for _, iv := range o.ivars {
		rt.Release(iv.val)
	}
	o.ivars = nil
	rt.Alloc.RawFree(o.blk)
	o.blk = NoAlloc
}

// GetIV returns the instance variable bound to sym without adjusting
// refcounts, or nil when unset.
func (o *RObject) GetIV(sym SymID) Value {
	for _, iv := range o.ivars {
		if iv.sym == sym {
			return iv.val
		}
	}
	return NilValue()
}

// SetIV binds sym to v, releasing any previous binding. The caller passes
// ownership of v.
func (o *RObject) SetIV(rt *Runtime, sym SymID, v Value) {
	for i := range o.ivars {
		if o.ivars[i].sym == sym {
			rt.Release(o.ivars[i].val)
			o.ivars[i].val = v
			return
		}
	}
	o.ivars = append(o.ivars, ivar{sym: sym, val: v})
}

func (o *RObject) clearVMID() {
	o.vmID = 0
	o.a.setBlockVMID(o.blk, 0)
	for _, iv := range o.ivars {
		iv.val.clearVMID()
	}
}
