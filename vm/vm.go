package vm

import (
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/hasumikin/picovm/hal"
)

var vmLog = commonlog.GetLogger("picovm.vm")

// ---------------------------------------------------------------------------
// Runtime: process-wide shared state
// ---------------------------------------------------------------------------

// Runtime owns everything shared between VMs: the allocator over the
// caller-supplied pool, the symbol table, the class registry, global and
// constant stores, and the task scheduler. Every entry point hangs off a
// Runtime; there is no package-level mutable state.
type Runtime struct {
	cfg  Config
	hw   hal.HAL
	cons *Console

	Alloc *Allocator
	Syms  *SymTable

	classes map[SymID]*RClass

	ObjectClass *RClass
	NilClass    *RClass
	FalseClass  *RClass
	TrueClass   *RClass
	FixnumClass *RClass
	FloatClass  *RClass
	SymbolClass *RClass
	ProcClass   *RClass
	ArrayClass  *RClass
	StringClass *RClass
	RangeClass  *RClass
	HashClass   *RClass

	globals map[SymID]Value
	consts  map[SymID]Value

	// Pre-interned selectors for arithmetic fallback sends.
	symAdd, symSub, symMul, symDiv    SymID
	symEq, symLt, symLe, symGt, symGe SymID
	symCall                           SymID

	vmInUse []bool // id bitmap, index 0 unused
	tickCnt atomic.Uint32

	// Task queues; guarded by the HAL interrupt mask.
	qReady   *Task
	qWaiting *Task
	qDormant *Task
	running  *Task
}

// Init builds a runtime over the caller-supplied memory pool. The pool
// backs every allocation the VMs make; the runtime fails closed once it
// is exhausted.
func Init(pool []byte, h hal.HAL, cfg Config) (*Runtime, error) {
	cfg.normalize()
	if h == nil {
		h = hal.NewPosix()
	}
	if err := h.Init(); err != nil {
		return nil, err
	}
	rt := &Runtime{
		cfg:     cfg,
		hw:      h,
		Alloc:   NewAllocator(pool),
		Syms:    NewSymTable(cfg.MaxSymbolsCount),
		classes: make(map[SymID]*RClass),
		globals: make(map[SymID]Value),
		consts:  make(map[SymID]Value),
		vmInUse: make([]bool, cfg.MaxVMCount+1),
	}
	rt.cons = &Console{hw: h}
	if err := rt.bootstrapClasses(); err != nil {
		return nil, err
	}
	rt.symAdd = rt.Syms.StrToSymID("+")
	rt.symSub = rt.Syms.StrToSymID("-")
	rt.symMul = rt.Syms.StrToSymID("*")
	rt.symDiv = rt.Syms.StrToSymID("/")
	rt.symEq = rt.Syms.StrToSymID("==")
	rt.symLt = rt.Syms.StrToSymID("<")
	rt.symLe = rt.Syms.StrToSymID("<=")
	rt.symGt = rt.Syms.StrToSymID(">")
	rt.symGe = rt.Syms.StrToSymID(">=")
	rt.symCall = rt.Syms.StrToSymID("call")
	if err := rt.registerBuiltins(); err != nil {
		return nil, err
	}
	return rt, nil
}

// Config returns the runtime configuration.
func (rt *Runtime) Config() Config { return rt.cfg }

// Console returns the console bound to the runtime's HAL.
func (rt *Runtime) Console() *Console { return rt.cons }

// ---------------------------------------------------------------------------
// Globals and constants
// ---------------------------------------------------------------------------

// GetGlobal reads a global variable; unset globals read as nil.
func (rt *Runtime) GetGlobal(sym SymID) Value {
	if v, ok := rt.globals[sym]; ok {
		return v
	}
	return NilValue()
}

// SetGlobal stores a global variable. The value escapes its VM, so its
// storage is untagged from the owner. The caller passes ownership.
func (rt *Runtime) SetGlobal(sym SymID, v Value) {
	v.clearVMID()
	if old, ok := rt.globals[sym]; ok {
		rt.Release(old)
	}
	rt.globals[sym] = v
}

// GetConst reads a constant; the ok result distinguishes nil from unset.
func (rt *Runtime) GetConst(sym SymID) (Value, bool) {
	v, ok := rt.consts[sym]
	return v, ok
}

// SetConst stores a constant. Constants live in one flat process-wide
// table keyed by symbol id.
func (rt *Runtime) SetConst(sym SymID, v Value) {
	v.clearVMID()
	if old, ok := rt.consts[sym]; ok {
		rt.Release(old)
	}
	rt.consts[sym] = v
}

// ---------------------------------------------------------------------------
// VM: per-task interpreter state
// ---------------------------------------------------------------------------

// callInfo is one saved frame on a VM's singly-linked call stack.
type callInfo struct {
	prev        *callInfo
	base        int
	pcIrep      *IRep
	pc          int
	mid         SymID
	nargs       int
	targetClass *RClass
	owner       *RClass // class the running method was found on (for SUPER)
	blk         int     // pool accounting block
}

// callInfoSlotSize is the pool budget charged per saved frame.
const callInfoSlotSize = 32

// Dispatch loop outcomes.
const (
	dispatchPreempted = iota
	dispatchHalted
)

// VM is one virtual machine: a register file, a call-info stack, and a
// program position inside an IREP tree.
type VM struct {
	rt   *Runtime
	task *Task

	ID      int
	pcIrep  *IRep
	pc      int
	regs    []Value
	base    int // index of the active window's register 0
	ci      *callInfo
	target  *RClass
	regsBlk int

	errorCode      ErrorCode
	flagPreemption atomic.Int32
	released       bool // register file already released (STOP vs ABORT)
}

// newVM acquires a VM id from the bitmap and charges the register file to
// the pool. Returns nil when MaxVMCount VMs are already live.
func (rt *Runtime) newVM() (*VM, error) {
	id := 0
	for i := 1; i < len(rt.vmInUse); i++ {
		if !rt.vmInUse[i] {
			id = i
			break
		}
	}
	if id == 0 {
		return nil, ErrOutOfMemory
	}
	blk := rt.Alloc.Alloc(id, rt.cfg.MaxRegsSize*valueSlotSize)
	if blk == NoAlloc {
		return nil, ErrOutOfMemory
	}
	rt.vmInUse[id] = true
	vm := &VM{
		rt:      rt,
		ID:      id,
		regs:    make([]Value, rt.cfg.MaxRegsSize),
		regsBlk: blk,
	}
	return vm, nil
}

// begin points the VM at a top-level IREP. Register 0 of the root window
// is self: the Object class.
func (vm *VM) begin(irep *IRep) {
	vm.pcIrep = irep
	vm.pc = 0
	vm.base = 0
	vm.ci = nil
	vm.target = vm.rt.ObjectClass
	vm.regs[0] = ClassValue(vm.rt.ObjectClass)
	vm.errorCode = ErrCodeOK
	vm.released = false
}

// end releases everything the VM still owns: live registers (unless ABORT
// already skipped them), the call-info chain, the register file block,
// and every pool block tagged with the VM's id.
func (vm *VM) end() {
	rt := vm.rt
	if !vm.released {
		vm.releaseRegs()
	}
	for vm.ci != nil {
		ci := vm.ci
		vm.ci = ci.prev
		rt.Alloc.RawFree(ci.blk)
	}
	rt.Alloc.RawFree(vm.regsBlk)
	vm.regsBlk = NoAlloc
	rt.Alloc.FreeAll(vm.ID)
	rt.vmInUse[vm.ID] = false
}

func (vm *VM) releaseRegs() {
	for i := range vm.regs {
		vm.rt.Release(vm.regs[i])
		vm.regs[i] = EmptyValue()
	}
	vm.released = true
}

// Runtime returns the owning runtime, for host built-ins.
func (vm *VM) Runtime() *Runtime { return vm.rt }

// ErrorCode returns the VM's error word.
func (vm *VM) ErrorCode() ErrorCode { return vm.errorCode }

// SetError records an unrecoverable failure; the scheduler reaps the VM
// at the next boundary.
func (vm *VM) SetError(code ErrorCode) {
	vm.errorCode = code
	vm.flagPreemption.Store(1)
}

// ---------------------------------------------------------------------------
// Call-info management
// ---------------------------------------------------------------------------

func (vm *VM) pushCallInfo(mid SymID, nargs int, owner *RClass) error {
	blk := vm.rt.Alloc.Alloc(vm.ID, callInfoSlotSize)
	if blk == NoAlloc {
		return ErrOutOfMemory
	}
	vm.ci = &callInfo{
		prev:        vm.ci,
		base:        vm.base,
		pcIrep:      vm.pcIrep,
		pc:          vm.pc,
		mid:         mid,
		nargs:       nargs,
		targetClass: vm.target,
		owner:       owner,
		blk:         blk,
	}
	return nil
}

func (vm *VM) popCallInfo() {
	ci := vm.ci
	if ci == nil {
		return
	}
	vm.base = ci.base
	vm.pcIrep = ci.pcIrep
	vm.pc = ci.pc
	vm.target = ci.targetClass
	vm.ci = ci.prev
	vm.rt.Alloc.RawFree(ci.blk)
}

// ---------------------------------------------------------------------------
// Register helpers
// ---------------------------------------------------------------------------

// window returns the active frame's register window.
func (vm *VM) window() []Value {
	return vm.regs[vm.base:]
}

// setReg releases the slot's previous occupant and stores v. The caller
// passes ownership of v.
func (vm *VM) setReg(regs []Value, i int, v Value) {
	vm.rt.Release(regs[i])
	regs[i] = v
}

// diag prints a runtime diagnostic on the console; execution continues.
func (vm *VM) diag(format string, args ...any) {
	vm.rt.cons.Printf(format, args...)
	vm.rt.cons.Putchar('\n')
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// dispatch executes instructions until the preemption flag is raised, the
// VM halts, or an opcode handler fails hard (out-of-memory). A context
// switch can only happen between instructions.
func (vm *VM) dispatch() int {
	rt := vm.rt
	for {
		if vm.flagPreemption.Load() != 0 {
			return dispatchPreempted
		}
		if vm.pcIrep == nil || vm.pc >= len(vm.pcIrep.Code) {
			// Fell off the code array: treat as STOP.
			vm.releaseRegs()
			return dispatchHalted
		}
		code := vm.pcIrep.Code[vm.pc]
		vm.pc++

		op := opcodeOf(code)
		if rt.cfg.Debug {
			vmLog.Debugf("vm %d: %s", vm.ID, DisasmInstruction(vm.pc-1, code))
		}

		var err error
		halt := false
		regs := vm.window()

		switch op {
		case OpNOP:
			// nothing
		case OpMOVE:
			vm.setReg(regs, getA(code), Dup(regs[getB(code)]))
		case OpLOADL:
			vm.setReg(regs, getA(code), Dup(vm.pcIrep.Pools[getBx(code)]))
		case OpLOADI:
			vm.setReg(regs, getA(code), FixnumValue(int64(getSBx(code))))
		case OpLOADSYM:
			vm.setReg(regs, getA(code), SymbolValue(vm.pcIrep.Syms[getBx(code)]))
		case OpLOADNIL:
			vm.setReg(regs, getA(code), NilValue())
		case OpLOADSELF:
			vm.setReg(regs, getA(code), Dup(regs[0]))
		case OpLOADT:
			vm.setReg(regs, getA(code), TrueValue())
		case OpLOADF:
			vm.setReg(regs, getA(code), FalseValue())

		case OpGETGLOBAL:
			vm.setReg(regs, getA(code), Dup(rt.GetGlobal(vm.pcIrep.Syms[getBx(code)])))
		case OpSETGLOBAL:
			rt.SetGlobal(vm.pcIrep.Syms[getBx(code)], Dup(regs[getA(code)]))
		case OpGETIV:
			err = vm.opGetIV(code, regs)
		case OpSETIV:
			err = vm.opSetIV(code, regs)
		case OpGETCONST:
			vm.opGetConst(code, regs)
		case OpSETCONST:
			rt.SetConst(vm.pcIrep.Syms[getBx(code)], Dup(regs[getA(code)]))
		case OpGETMCNST:
			// Constants live in one flat table; the class operand in
			// regs[A] is consumed and replaced by the lookup result.
			vm.opGetConst(code, regs)
		case OpGETUPVAR:
			vm.opGetUpvar(code, regs)
		case OpSETUPVAR:
			vm.opSetUpvar(code, regs)

		case OpJMP:
			vm.pc += getSBx(code)
		case OpJMPIF:
			if regs[getA(code)].Truthy() {
				vm.pc += getSBx(code)
			}
		case OpJMPNOT:
			if !regs[getA(code)].Truthy() {
				vm.pc += getSBx(code)
			}

		case OpSEND:
			err = vm.opSend(code, regs, false)
		case OpSENDB:
			err = vm.opSend(code, regs, true)
		case OpCALL:
			err = vm.opCall(code, regs)
		case OpSUPER:
			err = vm.opSuper(code, regs)
		case OpARGARY:
			// Argument-array semantics are unspecified for this dialect.
			vmLog.Warningf("vm %d: ARGARY unsupported", vm.ID)
			vm.setReg(regs, getA(code), NilValue())
		case OpENTER:
			vm.opEnter(code)
		case OpRETURN:
			halt = vm.opReturn(code, regs)
		case OpBLKPUSH:
			vm.opBlkPush(code, regs)

		case OpADD, OpSUB, OpMUL, OpDIV:
			err = vm.opArith(op, code, regs)
		case OpADDI, OpSUBI:
			vm.opArithI(op, code, regs)
		case OpEQ, OpLT, OpLE, OpGT, OpGE:
			err = vm.opCompare(op, code, regs)

		case OpARRAY:
			err = vm.opArray(code, regs)
		case OpSTRING:
			err = vm.opString(code, regs)
		case OpSTRCAT:
			err = vm.opStrCat(code, regs)
		case OpHASH:
			err = vm.opHash(code, regs)
		case OpLAMBDA:
			err = vm.opLambda(code, regs)
		case OpRANGE:
			err = vm.opRange(code, regs)

		case OpCLASS:
			err = vm.opClass(code, regs)
		case OpEXEC:
			err = vm.opExec(code, regs)
		case OpMETHOD:
			vm.opMethod(code, regs)
		case OpSCLASS:
			// Singleton classes are unsupported.
		case OpTCLASS:
			vm.setReg(regs, getA(code), ClassValue(vm.target))

		case OpSTOP:
			vm.releaseRegs()
			halt = true
		case OpABORT:
			halt = true

		default:
			vm.diag("unknown opcode %#02x", uint8(op))
		}

		if err != nil {
			// Hard failure (out-of-memory or equivalent): abort this VM.
			vm.errorCode = codeFor(err)
			vmLog.Errorf("vm %d aborted: %v", vm.ID, err)
			return dispatchHalted
		}
		if halt {
			return dispatchHalted
		}
	}
}

// ---------------------------------------------------------------------------
// Variable access
// ---------------------------------------------------------------------------

// Instance-variable symbols arrive from the compiler with the leading '@'
// still attached; it is stripped before the ivar table is consulted.
func (vm *VM) ivarSym(ordinal int) SymID {
	name := vm.rt.Syms.SymIDToStr(vm.pcIrep.Syms[ordinal])
	if len(name) > 0 && name[0] == '@' {
		name = name[1:]
	}
	return vm.rt.Syms.StrToSymID(name)
}

func (vm *VM) opGetIV(code uint32, regs []Value) error {
	sid := vm.ivarSym(getBx(code))
	if sid == SymNotFound {
		return ErrSymbolTableFull
	}
	if regs[0].Type != TypeObject {
		vm.diag("instance variable access outside an instance")
		vm.setReg(regs, getA(code), NilValue())
		return nil
	}
	vm.setReg(regs, getA(code), Dup(regs[0].Obj.GetIV(sid)))
	return nil
}

func (vm *VM) opSetIV(code uint32, regs []Value) error {
	sid := vm.ivarSym(getBx(code))
	if sid == SymNotFound {
		return ErrSymbolTableFull
	}
	if regs[0].Type != TypeObject {
		vm.diag("instance variable access outside an instance")
		return nil
	}
	regs[0].Obj.SetIV(vm.rt, sid, Dup(regs[getA(code)]))
	return nil
}

func (vm *VM) opGetConst(code uint32, regs []Value) {
	sid := vm.pcIrep.Syms[getBx(code)]
	v, ok := vm.rt.GetConst(sid)
	if !ok {
		vm.diag("uninitialized constant %s", vm.rt.Syms.SymIDToStr(sid))
		vm.setReg(regs, getA(code), NilValue())
		return
	}
	vm.setReg(regs, getA(code), Dup(v))
}

// upvarFrame resolves the frame an upvar reference addresses: starting
// at the call-info pushed when the proc was entered, each depth level
// steps two records further out (the proc entry and the send that led to
// it). The defining frame's register window must still be live; procs
// outliving their frame are undefined behaviour.
func (vm *VM) upvarFrame(depth int) *callInfo {
	ci := vm.ci
	for n := depth * 2; n > 0 && ci != nil; n-- {
		ci = ci.prev
	}
	return ci
}

func (vm *VM) opGetUpvar(code uint32, regs []Value) {
	ci := vm.upvarFrame(getC(code))
	if ci == nil {
		vm.diag("upvar access outside a block")
		vm.setReg(regs, getA(code), NilValue())
		return
	}
	upRegs := vm.regs[ci.base:]
	vm.setReg(regs, getA(code), Dup(upRegs[getB(code)]))
}

func (vm *VM) opSetUpvar(code uint32, regs []Value) {
	ci := vm.upvarFrame(getC(code))
	if ci == nil {
		vm.diag("upvar access outside a block")
		return
	}
	upRegs := vm.regs[ci.base:]
	vm.rt.Release(upRegs[getB(code)])
	upRegs[getB(code)] = Dup(regs[getA(code)])
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// opSend implements SEND and SENDB: [recv, arg1..argn, block] at
// regs[a..a+n+1].
func (vm *VM) opSend(code uint32, regs []Value, withBlock bool) error {
	return vm.sendBySym(regs, getA(code), vm.pcIrep.Syms[getB(code)], getC(code), withBlock)
}

// sendBySym dispatches a selector already resolved to a symbol id. It is
// the shared path behind SEND/SENDB and the arithmetic fallbacks.
func (vm *VM) sendBySym(regs []Value, a int, sid SymID, nargs int, withBlock bool) error {
	recv := regs[a]

	if withBlock {
		blk := regs[a+nargs+1]
		if blk.Type != TypeNil && blk.Type != TypeProc {
			// A block argument that is neither nil nor a proc is
			// silently dropped, matching the original dialect.
			vm.releaseArgs(regs, a, nargs)
			vm.setReg(regs, a, NilValue())
			return nil
		}
	}

	// A proc invoked by name is entered directly, keeping its window at
	// the call site so BLKPUSH and upvars resolve against live frames.
	if recv.Type == TypeProc && sid == vm.rt.symCall && !recv.Prc.IsCFunc {
		if err := vm.pushCallInfo(sid, nargs, nil); err != nil {
			return err
		}
		vm.base += a
		vm.pcIrep = recv.Prc.IRep
		vm.pc = 0
		return nil
	}

	m, owner := vm.rt.findMethodOwner(recv, sid)
	if m == nil {
		vm.diag("undefined method '%s' for %s", vm.rt.Syms.SymIDToStr(sid), vm.rt.typeName(recv))
		vm.releaseArgs(regs, a, nargs)
		vm.setReg(regs, a, NilValue())
		return nil
	}

	if m.IsCFunc {
		m.Func(vm, regs[a:], nargs)
		vm.releaseArgs(regs, a, nargs)
		return nil
	}

	if err := vm.pushCallInfo(sid, nargs, owner); err != nil {
		return err
	}
	vm.base += a
	vm.pcIrep = m.IRep
	vm.pc = 0
	return nil
}

// releaseArgs clears the argument and block slots after a call returns.
func (vm *VM) releaseArgs(regs []Value, a, nargs int) {
	for i := a + 1; i <= a+nargs+1 && i < len(regs); i++ {
		vm.rt.Release(regs[i])
		regs[i] = EmptyValue()
	}
}

// opCall invokes the proc stored as self in register 0.
func (vm *VM) opCall(code uint32, regs []Value) error {
	if regs[0].Type != TypeProc || regs[0].Prc.IRep == nil {
		vm.diag("CALL without a proc self")
		return nil
	}
	if err := vm.pushCallInfo(vm.rt.symCall, 0, nil); err != nil {
		return err
	}
	vm.pcIrep = regs[0].Prc.IRep
	vm.pc = 0
	return nil
}

// opSuper re-dispatches the running method's selector starting above the
// class it was found on. Arguments are laid out like SEND at regs[a].
func (vm *VM) opSuper(code uint32, regs []Value) error {
	a := getA(code)
	nargs := getC(code)
	if vm.ci == nil || vm.ci.owner == nil || vm.ci.owner.Super == nil {
		vm.diag("super called outside method")
		vm.setReg(regs, a, NilValue())
		return nil
	}
	sid := vm.ci.mid
	m, owner := vm.rt.findMethodFrom(vm.ci.owner.Super, sid)
	if m == nil {
		vm.diag("undefined method '%s' for super", vm.rt.Syms.SymIDToStr(sid))
		vm.releaseArgs(regs, a, nargs)
		vm.setReg(regs, a, NilValue())
		return nil
	}

	// Receiver is the current self.
	vm.setReg(regs, a, Dup(regs[0]))

	if m.IsCFunc {
		m.Func(vm, regs[a:], nargs)
		vm.releaseArgs(regs, a, nargs)
		return nil
	}
	if err := vm.pushCallInfo(sid, nargs, owner); err != nil {
		return err
	}
	vm.base += a
	vm.pcIrep = m.IRep
	vm.pc = 0
	return nil
}

// opEnter marshals arguments against the declared signature packed in Ax:
// m1:5 o:5 r:1 m2:5 k:5 d:1 b:1. Only required and optional positionals
// are honoured; with optionals present the entry jump table is skipped
// according to the caller's argument count.
func (vm *VM) opEnter(code uint32) {
	ax := getAx(code)
	m1 := (ax >> 18) & 0x1f
	o := (ax >> 13) & 0x1f
	if o == 0 || vm.ci == nil {
		return
	}
	argc := vm.ci.nargs
	skip := argc - m1
	if skip < 0 {
		skip = 0
	}
	if skip > o {
		skip = o
	}
	vm.pc += skip
}

// opReturn restores the caller frame. Break mode first unwinds every
// nested frame sharing the current register base, then one more.
func (vm *VM) opReturn(code uint32, regs []Value) bool {
	a := getA(code)
	mode := getB(code)

	ret := Dup(regs[a])
	// The returning frame's geometry, captured before break-mode
	// unwinding rewrites pcIrep and base to intermediate frames.
	calleeBase := vm.base
	nregs := vm.pcIrep.NRegs

	if mode == ReturnBreak {
		for vm.ci != nil && vm.ci.base == vm.base {
			vm.popCallInfo()
		}
	}

	if vm.ci == nil {
		// Top-level return halts the VM like STOP.
		vm.rt.Release(ret)
		vm.releaseRegs()
		return true
	}

	for i := 1; i < nregs && calleeBase+i < len(vm.regs); i++ {
		vm.rt.Release(vm.regs[calleeBase+i])
		vm.regs[calleeBase+i] = EmptyValue()
	}
	vm.rt.Release(vm.regs[calleeBase])
	vm.regs[calleeBase] = ret

	vm.popCallInfo()
	return false
}

// opBlkPush loads the block argument of the current method into regs[a].
func (vm *VM) opBlkPush(code uint32, regs []Value) {
	bx := getBx(code)
	m1 := (bx >> 10) & 0x3f
	r := (bx >> 9) & 0x1
	m2 := (bx >> 4) & 0x1f
	lv := bx & 0xf

	var src []Value
	if lv == 0 {
		src = regs
	} else {
		ci := vm.upvarFrame(lv - 1)
		if ci == nil {
			vm.diag("no block given")
			vm.setReg(regs, getA(code), NilValue())
			return
		}
		src = vm.regs[ci.base:]
	}
	blk := src[m1+r+m2+1]
	if blk.Type != TypeProc {
		vm.diag("no block given")
		vm.setReg(regs, getA(code), NilValue())
		return
	}
	vm.setReg(regs, getA(code), Dup(blk))
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

// opArith fast-paths fixnum/float operand pairs; any other receiver falls
// back to a regular SEND of the operator selector.
func (vm *VM) opArith(op Opcode, code uint32, regs []Value) error {
	a := getA(code)
	x, y := regs[a], regs[a+1]

	if x.Type == TypeFixnum && y.Type == TypeFixnum {
		var r int64
		switch op {
		case OpADD:
			r = x.I + y.I
		case OpSUB:
			r = x.I - y.I
		case OpMUL:
			r = x.I * y.I
		case OpDIV:
			if y.I == 0 {
				vm.diag("ZeroDivisionError: divided by 0")
				regs[a] = NilValue()
				regs[a+1] = EmptyValue()
				return nil
			}
			r = x.I / y.I
		}
		regs[a] = FixnumValue(r)
		regs[a+1] = EmptyValue()
		return nil
	}

	if vm.rt.cfg.UseFloat && x.IsNumeric() && y.IsNumeric() {
		fx, fy := toFloat(x), toFloat(y)
		var r float64
		switch op {
		case OpADD:
			r = fx + fy
		case OpSUB:
			r = fx - fy
		case OpMUL:
			r = fx * fy
		case OpDIV:
			r = fx / fy
		}
		regs[a] = FloatValue(r)
		regs[a+1] = EmptyValue()
		return nil
	}

	return vm.sendBySym(regs, a, vm.arithSym(op), 1, false)
}

// arithSym maps a fast-path opcode to its operator selector.
func (vm *VM) arithSym(op Opcode) SymID {
	switch op {
	case OpADD:
		return vm.rt.symAdd
	case OpSUB:
		return vm.rt.symSub
	case OpMUL:
		return vm.rt.symMul
	case OpDIV:
		return vm.rt.symDiv
	case OpEQ:
		return vm.rt.symEq
	case OpLT:
		return vm.rt.symLt
	case OpLE:
		return vm.rt.symLe
	case OpGT:
		return vm.rt.symGt
	case OpGE:
		return vm.rt.symGe
	}
	return SymNotFound
}

func toFloat(v Value) float64 {
	if v.Type == TypeFixnum {
		return float64(v.I)
	}
	return v.F
}

// opArithI adds or subtracts the immediate operand C in place.
func (vm *VM) opArithI(op Opcode, code uint32, regs []Value) {
	a := getA(code)
	imm := int64(getC(code))
	if op == OpSUBI {
		imm = -imm
	}
	switch regs[a].Type {
	case TypeFixnum:
		regs[a].I += imm
	case TypeFloat:
		if vm.rt.cfg.UseFloat {
			regs[a].F += float64(imm)
			return
		}
		fallthrough
	default:
		vm.diag("TypeError: not a numeric receiver for %s", op)
		vm.setReg(regs, a, NilValue())
	}
}

func (vm *VM) opCompare(op Opcode, code uint32, regs []Value) error {
	a := getA(code)
	x, y := regs[a], regs[a+1]

	if x.IsNumeric() && y.IsNumeric() {
		c := Compare(x, y)
		var res bool
		switch op {
		case OpEQ:
			res = c == 0
		case OpLT:
			res = c < 0
		case OpLE:
			res = c <= 0
		case OpGT:
			res = c > 0
		case OpGE:
			res = c >= 0
		}
		regs[a] = BoolValue(res)
		regs[a+1] = EmptyValue()
		return nil
	}

	if op == OpEQ && (x.Type == TypeNil || x.Type == TypeFalse || x.Type == TypeTrue ||
		x.Type == TypeSymbol) {
		res := Compare(x, y) == 0 && x.Type == y.Type
		vm.setReg(regs, a+1, EmptyValue())
		vm.setReg(regs, a, BoolValue(res))
		return nil
	}

	return vm.sendBySym(regs, a, vm.arithSym(op), 1, false)
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// opArray gathers C values starting at regs[b] into a new array; source
// registers transfer ownership and are left empty.
func (vm *VM) opArray(code uint32, regs []Value) error {
	a, b, n := getA(code), getB(code), getC(code)
	av, err := vm.rt.NewArray(vm.ID, n)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := av.Ary.Push(vm.rt, regs[b+i]); err != nil {
			vm.rt.Release(av)
			return err
		}
		regs[b+i] = EmptyValue()
	}
	vm.setReg(regs, a, av)
	return nil
}

func (vm *VM) opString(code uint32, regs []Value) error {
	p := vm.pcIrep.Pools[getBx(code)]
	if p.Type != TypeString {
		vm.diag("STRING with a non-string literal")
		vm.setReg(regs, getA(code), NilValue())
		return nil
	}
	sv, err := vm.rt.NewString(vm.ID, p.Str.Bytes())
	if err != nil {
		return err
	}
	vm.setReg(regs, getA(code), sv)
	return nil
}

func (vm *VM) opStrCat(code uint32, regs []Value) error {
	a, b := getA(code), getB(code)
	if regs[a].Type != TypeString || regs[b].Type != TypeString {
		vm.diag("TypeError: STRCAT on non-string")
		return nil
	}
	if err := regs[a].Str.Append(vm.rt, regs[b].Str.Bytes()); err != nil {
		return err
	}
	vm.setReg(regs, b, EmptyValue())
	return nil
}

// opHash gathers C key/value pairs starting at regs[b].
func (vm *VM) opHash(code uint32, regs []Value) error {
	a, b, n := getA(code), getB(code), getC(code)
	hv, err := vm.rt.NewHash(vm.ID, n)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		k, v := regs[b+i*2], regs[b+i*2+1]
		if err := hv.Hsh.Set(vm.rt, k, v); err != nil {
			vm.rt.Release(hv)
			return err
		}
		regs[b+i*2] = EmptyValue()
		regs[b+i*2+1] = EmptyValue()
	}
	vm.setReg(regs, a, hv)
	return nil
}

func (vm *VM) opLambda(code uint32, regs []Value) error {
	child := getBz(code)
	if child >= len(vm.pcIrep.Reps) {
		vm.diag("LAMBDA with no such child unit")
		vm.setReg(regs, getA(code), NilValue())
		return nil
	}
	pv, err := vm.rt.NewIrepProc(vm.ID, vm.pcIrep.Reps[child])
	if err != nil {
		return err
	}
	vm.setReg(regs, getA(code), pv)
	return nil
}

func (vm *VM) opRange(code uint32, regs []Value) error {
	a, b, c := getA(code), getB(code), getC(code)
	rv, err := vm.rt.NewRange(vm.ID, regs[b], regs[b+1], c != 0)
	if err != nil {
		return err
	}
	regs[b] = EmptyValue()
	regs[b+1] = EmptyValue()
	vm.setReg(regs, a, rv)
	return nil
}

// ---------------------------------------------------------------------------
// Class machinery
// ---------------------------------------------------------------------------

// opClass defines (or reopens) the class named Syms[B] under the
// superclass in regs[a+1].
func (vm *VM) opClass(code uint32, regs []Value) error {
	a := getA(code)
	var super *RClass
	if regs[a+1].Type == TypeClass {
		super = regs[a+1].Cls
	}
	name := vm.rt.Syms.SymIDToStr(vm.pcIrep.Syms[getB(code)])
	cls, err := vm.rt.DefineClass(name, super)
	if err != nil {
		return err
	}
	vm.setReg(regs, a+1, EmptyValue())
	vm.setReg(regs, a, ClassValue(cls))
	return nil
}

// opExec runs a child IREP (a class body) with the class in regs[a] as
// both self and the open target class.
func (vm *VM) opExec(code uint32, regs []Value) error {
	a := getA(code)
	if regs[a].Type != TypeClass {
		vm.diag("EXEC outside a class definition")
		return nil
	}
	if err := vm.pushCallInfo(SymNotFound, 0, nil); err != nil {
		return err
	}
	vm.base += a
	vm.pcIrep = vm.pcIrep.Reps[getBx(code)]
	vm.pc = 0
	vm.target = regs[a].Cls
	return nil
}

// opMethod installs the proc in regs[a+1] as a method named Syms[B] on
// the class in regs[a]. Ownership of the proc transfers to the class.
func (vm *VM) opMethod(code uint32, regs []Value) {
	a := getA(code)
	if regs[a].Type != TypeClass || regs[a+1].Type != TypeProc {
		vm.diag("METHOD outside a class definition")
		return
	}
	p := regs[a+1].Prc
	p.Sym = vm.pcIrep.Syms[getB(code)]
	p.clearVMIDProc()
	vm.rt.installMethod(regs[a].Cls, p)
	regs[a+1] = EmptyValue()
}

// ---------------------------------------------------------------------------
// Method lookup helpers
// ---------------------------------------------------------------------------

// findMethodOwner resolves a selector for a receiver and also reports the
// class the method was found on.
func (rt *Runtime) findMethodOwner(recv Value, sym SymID) (*RProc, *RClass) {
	return rt.findMethodFrom(rt.ClassOf(recv), sym)
}

func (rt *Runtime) findMethodFrom(cls *RClass, sym SymID) (*RProc, *RClass) {
	for ; cls != nil; cls = cls.Super {
		for p := cls.Procs; p != nil; p = p.Next {
			if p.Sym == sym {
				return p, cls
			}
		}
	}
	return nil, nil
}

// typeName renders a receiver's class name for diagnostics.
func (rt *Runtime) typeName(v Value) string {
	cls := rt.ClassOf(v)
	if cls != nil {
		return cls.Name(rt)
	}
	return v.Type.String()
}

// clearVMIDProc untags a proc that escaped into the class registry, so
// its record survives bulk reclamation of the defining VM.
func (p *RProc) clearVMIDProc() {
	p.vmID = 0
	p.a.setBlockVMID(p.blk, 0)
}
