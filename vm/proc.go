package vm

// ---------------------------------------------------------------------------
// RProc: callable method record
// ---------------------------------------------------------------------------

// BuiltinFunc is a host-supplied built-in method. It receives the calling
// VM, the register window starting at the receiver, and the argument
// count, and returns by writing argv[0].
type BuiltinFunc func(vm *VM, argv []Value, argc int)

// RProc is either a host built-in (Func set) or a bytecode method (IRep
// set). Sym is the bound selector; Next links the owning class's method
// chain.
type RProc struct {
	refHeader
	a       *Allocator
	blk     int
	IsCFunc bool
	Func    BuiltinFunc
	IRep    *IRep
	Sym     SymID
	Next    *RProc
}

// newCProc wraps a built-in function as a process-global proc.
func (rt *Runtime) newCProc(fn BuiltinFunc) (*RProc, error) {
	blk := rt.Alloc.RawAlloc(procSlotSize)
	if blk == NoAlloc {
		return nil, ErrOutOfMemory
	}
	return &RProc{
		refHeader: refHeader{refCount: 1},
		a:         rt.Alloc,
		blk:       blk,
		IsCFunc:   true,
		Func:      fn,
	}, nil
}

// NewIrepProc captures a bytecode unit as a proc value owned by vmID.
// Used by LAMBDA and by METHOD installation.
func (rt *Runtime) NewIrepProc(vmID int, irep *IRep) (Value, error) {
	blk := rt.Alloc.Alloc(vmID, procSlotSize)
	if blk == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	p := &RProc{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		blk:       blk,
		IRep:      irep,
	}
	return Value{Type: TypeProc, Prc: p}, nil
}

// procSlotSize is the pool budget charged per proc record.
const procSlotSize = 24

func (rt *Runtime) procDelete(p *RProc) {
	rt.Alloc.RawFree(p.blk)
	p.blk = NoAlloc
	p.Func = nil
	p.IRep = nil
}
