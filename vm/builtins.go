package vm

// ---------------------------------------------------------------------------
// Argument marshalling for host built-ins
// ---------------------------------------------------------------------------

// Built-ins receive (vm, argv, argc) where argv[0] is the receiver and
// argv[1..argc] the arguments, and return by writing argv[0]. The helpers
// below are the canonical marshalling surface for embedders.

// GetArg returns argument i (1-based), or nil when out of range.
func GetArg(argv []Value, argc, i int) Value {
	if i < 1 || i > argc || i >= len(argv) {
		return NilValue()
	}
	return argv[i]
}

// GetIntArg returns argument i as an int64 (floats truncate, everything
// else reads as 0).
func GetIntArg(argv []Value, argc, i int) int64 {
	v := GetArg(argv, argc, i)
	switch v.Type {
	case TypeFixnum:
		return v.I
	case TypeFloat:
		return int64(v.F)
	}
	return 0
}

// GetStringArg returns argument i's bytes, or nil for non-strings.
func GetStringArg(argv []Value, argc, i int) []byte {
	v := GetArg(argv, argc, i)
	if v.Type != TypeString {
		return nil
	}
	return v.Str.Bytes()
}

// SetReturn writes the built-in's result, releasing the receiver slot.
// The caller passes ownership of v.
func SetReturn(vm *VM, argv []Value, v Value) {
	vm.rt.Release(argv[0])
	argv[0] = v
}

// SetIntReturn returns a fixnum result.
func SetIntReturn(vm *VM, argv []Value, n int64) {
	SetReturn(vm, argv, FixnumValue(n))
}

// SetFloatReturn returns a float result.
func SetFloatReturn(vm *VM, argv []Value, f float64) {
	SetReturn(vm, argv, FloatValue(f))
}

// SetBoolReturn returns true or false.
func SetBoolReturn(vm *VM, argv []Value, b bool) {
	SetReturn(vm, argv, BoolValue(b))
}

// SetNilReturn returns nil.
func SetNilReturn(vm *VM, argv []Value) {
	SetReturn(vm, argv, NilValue())
}

// ---------------------------------------------------------------------------
// Core built-in methods
// ---------------------------------------------------------------------------

// registerBuiltins installs the built-in method set the guest programs
// rely on. Host applications layer their own methods on top via
// DefineMethod.
func (rt *Runtime) registerBuiltins() error {
	type def struct {
		cls  *RClass
		name string
		fn   BuiltinFunc
	}
	defs := []def{
		// Object
		{nil, "puts", biPuts},
		{nil, "print", biPrint},
		{nil, "p", biInspect},
		{nil, "sleep", biSleep},
		{nil, "sleep_ms", biSleepMs},
		{nil, "memory_statistics", biMemoryStatistics},
		{nil, "==", biCmpEq},
		{nil, "!=", biCmpNe},
		{nil, "<", biCmpLt},
		{nil, "<=", biCmpLe},
		{nil, ">", biCmpGt},
		{nil, ">=", biCmpGe},
		{nil, "class", biClass},
		{nil, "nil?", biNilP},
		{nil, "to_s", biToS},
		{nil, "new", biNew},

		// Fixnum
		{rt.FixnumClass, "to_s", biToS},
		{rt.FixnumClass, "times", biFixnumTimes},

		// String
		{rt.StringClass, "size", biStringSize},
		{rt.StringClass, "length", biStringSize},
		{rt.StringClass, "+", biStringPlus},
		{rt.StringClass, "to_i", biStringToI},
		{rt.StringClass, "to_s", biToS},
		{rt.StringClass, "[]", biStringIndex},

		// Array
		{rt.ArrayClass, "size", biArraySize},
		{rt.ArrayClass, "length", biArraySize},
		{rt.ArrayClass, "[]", biArrayGet},
		{rt.ArrayClass, "[]=", biArraySet},
		{rt.ArrayClass, "<<", biArrayPush},
		{rt.ArrayClass, "first", biArrayFirst},
		{rt.ArrayClass, "last", biArrayLast},

		// Hash
		{rt.HashClass, "size", biHashSize},
		{rt.HashClass, "[]", biHashGet},
		{rt.HashClass, "[]=", biHashSet},
		{rt.HashClass, "key?", biHashKeyP},

		// Range
		{rt.RangeClass, "first", biRangeFirst},
		{rt.RangeClass, "last", biRangeLast},
		{rt.RangeClass, "exclude_end?", biRangeExcludeEnd},
	}
	for _, d := range defs {
		if err := rt.DefineMethod(d.cls, d.name, d.fn); err != nil {
			return err
		}
	}
	return nil
}

// --- Object ---

func biPuts(vm *VM, argv []Value, argc int) {
	cons := vm.rt.cons
	if argc == 0 {
		cons.Putchar('\n')
	}
	for i := 1; i <= argc; i++ {
		cons.Write([]byte(vm.rt.ToS(GetArg(argv, argc, i))))
		cons.Putchar('\n')
	}
	SetNilReturn(vm, argv)
}

func biPrint(vm *VM, argv []Value, argc int) {
	for i := 1; i <= argc; i++ {
		vm.rt.cons.Write([]byte(vm.rt.ToS(GetArg(argv, argc, i))))
	}
	SetNilReturn(vm, argv)
}

func biInspect(vm *VM, argv []Value, argc int) {
	for i := 1; i <= argc; i++ {
		vm.rt.cons.Write([]byte(vm.rt.Inspect(GetArg(argv, argc, i))))
		vm.rt.cons.Putchar('\n')
	}
	if argc == 1 {
		SetReturn(vm, argv, Dup(argv[1]))
		return
	}
	SetNilReturn(vm, argv)
}

func biSleep(vm *VM, argv []Value, argc int) {
	sec := GetArg(argv, argc, 1)
	ms := int64(0)
	switch sec.Type {
	case TypeFixnum:
		ms = sec.I * 1000
	case TypeFloat:
		ms = int64(sec.F * 1000)
	}
	vm.rt.sleepCurrent(vm, ms)
	SetNilReturn(vm, argv)
}

func biSleepMs(vm *VM, argv []Value, argc int) {
	vm.rt.sleepCurrent(vm, GetIntArg(argv, argc, 1))
	SetNilReturn(vm, argv)
}

// biMemoryStatistics surfaces the allocator's statistics to guest code as
// a 4-element array: total, used, free, fragment.
func biMemoryStatistics(vm *VM, argv []Value, argc int) {
	total, used, free, fragment := vm.rt.Alloc.Statistics()
	av, err := vm.rt.NewArray(vm.ID, 4)
	if err != nil {
		SetNilReturn(vm, argv)
		return
	}
	for _, n := range []int{total, used, free, fragment} {
		av.Ary.Push(vm.rt, FixnumValue(int64(n)))
	}
	SetReturn(vm, argv, av)
}

func cmpBuiltin(vm *VM, argv []Value, argc int, test func(int) bool) {
	SetBoolReturn(vm, argv, test(Compare(argv[0], GetArg(argv, argc, 1))))
}

func biCmpEq(vm *VM, argv []Value, argc int) {
	other := GetArg(argv, argc, 1)
	eq := argv[0].Type == other.Type && Compare(argv[0], other) == 0
	// Numeric promotion still applies across fixnum/float.
	if !eq && argv[0].IsNumeric() && other.IsNumeric() {
		eq = Compare(argv[0], other) == 0
	}
	SetBoolReturn(vm, argv, eq)
}

func biCmpNe(vm *VM, argv []Value, argc int) {
	biCmpEq(vm, argv, argc)
	SetBoolReturn(vm, argv, argv[0].Type == TypeFalse)
}

func biCmpLt(vm *VM, argv []Value, argc int) {
	cmpBuiltin(vm, argv, argc, func(c int) bool { return c < 0 })
}

func biCmpLe(vm *VM, argv []Value, argc int) {
	cmpBuiltin(vm, argv, argc, func(c int) bool { return c <= 0 })
}

func biCmpGt(vm *VM, argv []Value, argc int) {
	cmpBuiltin(vm, argv, argc, func(c int) bool { return c > 0 })
}

func biCmpGe(vm *VM, argv []Value, argc int) {
	cmpBuiltin(vm, argv, argc, func(c int) bool { return c >= 0 })
}

func biClass(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, ClassValue(vm.rt.ClassOf(argv[0])))
}

func biNilP(vm *VM, argv []Value, argc int) {
	SetBoolReturn(vm, argv, argv[0].IsNil())
}

func biToS(vm *VM, argv []Value, argc int) {
	sv, err := vm.rt.NewStringFrom(vm.ID, vm.rt.ToS(argv[0]))
	if err != nil {
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, sv)
}

// biNew allocates a bare instance of the receiver class. No initialize
// dispatch: constructors in this dialect set state through host
// built-ins or plain method calls after new.
func biNew(vm *VM, argv []Value, argc int) {
	if argv[0].Type != TypeClass {
		SetNilReturn(vm, argv)
		return
	}
	ov, err := vm.rt.NewInstance(vm.ID, argv[0].Cls)
	if err != nil {
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, ov)
}

// --- Fixnum ---

// biFixnumTimes calls the given block N times with the iteration index.
// The block's host function is called directly, once per iteration,
// within the same instruction.
func biFixnumTimes(vm *VM, argv []Value, argc int) {
	// Bytecode blocks need the dispatch loop; the built-in form only
	// supports host-supplied procs and is otherwise a diagnosed no-op.
	blk := GetArg(argv, argc, 1)
	if blk.Type != TypeProc || !blk.Prc.IsCFunc {
		vm.diag("Fixnum#times requires a built-in block")
		SetReturn(vm, argv, Dup(argv[0]))
		return
	}
	n := argv[0].I
	for i := int64(0); i < n; i++ {
		args := []Value{NilValue(), FixnumValue(i)}
		blk.Prc.Func(vm, args, 1)
		vm.rt.Release(args[0])
	}
	SetReturn(vm, argv, Dup(argv[0]))
}

// --- String ---

func biStringSize(vm *VM, argv []Value, argc int) {
	SetIntReturn(vm, argv, int64(argv[0].Str.Len()))
}

func biStringPlus(vm *VM, argv []Value, argc int) {
	other := GetArg(argv, argc, 1)
	if other.Type != TypeString {
		vm.diag("TypeError: no implicit conversion into String")
		SetNilReturn(vm, argv)
		return
	}
	sv, err := vm.rt.NewString(vm.ID, argv[0].Str.Bytes())
	if err != nil {
		SetNilReturn(vm, argv)
		return
	}
	if err := sv.Str.Append(vm.rt, other.Str.Bytes()); err != nil {
		vm.rt.Release(sv)
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, sv)
}

func biStringToI(vm *VM, argv []Value, argc int) {
	base := int64(10)
	if argc >= 1 {
		if b := GetIntArg(argv, argc, 1); b >= 2 && b <= 36 {
			base = b
		}
	}
	SetIntReturn(vm, argv, Atoi(argv[0].Str.Bytes(), base))
}

func biStringIndex(vm *VM, argv []Value, argc int) {
	v, err := argv[0].Str.Index(vm.rt, vm.ID, GetIntArg(argv, argc, 1))
	if err != nil {
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, v)
}

// --- Array ---

func biArraySize(vm *VM, argv []Value, argc int) {
	SetIntReturn(vm, argv, int64(argv[0].Ary.Len()))
}

func biArrayGet(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Ary.Get(GetIntArg(argv, argc, 1))))
}

func biArraySet(vm *VM, argv []Value, argc int) {
	v := Dup(GetArg(argv, argc, 2))
	if err := argv[0].Ary.Set(vm.rt, GetIntArg(argv, argc, 1), v); err != nil {
		vm.rt.Release(v)
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, Dup(GetArg(argv, argc, 2)))
}

func biArrayPush(vm *VM, argv []Value, argc int) {
	v := Dup(GetArg(argv, argc, 1))
	if err := argv[0].Ary.Push(vm.rt, v); err != nil {
		vm.rt.Release(v)
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, Dup(argv[0]))
}

func biArrayFirst(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Ary.Get(0)))
}

func biArrayLast(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Ary.Get(-1)))
}

// --- Hash ---

func biHashSize(vm *VM, argv []Value, argc int) {
	SetIntReturn(vm, argv, int64(argv[0].Hsh.Len()))
}

func biHashGet(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Hsh.Get(GetArg(argv, argc, 1))))
}

func biHashSet(vm *VM, argv []Value, argc int) {
	k := Dup(GetArg(argv, argc, 1))
	v := Dup(GetArg(argv, argc, 2))
	if err := argv[0].Hsh.Set(vm.rt, k, v); err != nil {
		vm.rt.Release(k)
		vm.rt.Release(v)
		SetNilReturn(vm, argv)
		return
	}
	SetReturn(vm, argv, Dup(GetArg(argv, argc, 2)))
}

func biHashKeyP(vm *VM, argv []Value, argc int) {
	SetBoolReturn(vm, argv, argv[0].Hsh.Has(GetArg(argv, argc, 1)))
}

// --- Range ---

func biRangeFirst(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Rng.First))
}

func biRangeLast(vm *VM, argv []Value, argc int) {
	SetReturn(vm, argv, Dup(argv[0].Rng.Last))
}

func biRangeExcludeEnd(vm *VM, argv []Value, argc int) {
	SetBoolReturn(vm, argv, argv[0].Rng.Exclude)
}
