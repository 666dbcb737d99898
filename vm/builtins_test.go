package vm

import (
	"strings"
	"testing"
)

// callBuiltin looks a method up through the registry and invokes it the
// way the dispatcher does.
func callBuiltin(t *testing.T, rt *Runtime, vmach *VM, recv Value, name string, args ...Value) Value {
	t.Helper()
	m := rt.FindMethod(recv, rt.Syms.StrToSymID(name))
	if m == nil {
		t.Fatalf("builtin %q not found for %v", name, recv.Type)
	}
	if !m.IsCFunc {
		t.Fatalf("builtin %q is not a host function", name)
	}
	argv := make([]Value, len(args)+2)
	argv[0] = Dup(recv)
	for i, a := range args {
		argv[i+1] = Dup(a)
	}
	m.Func(vmach, argv, len(args))
	for i := 1; i < len(argv); i++ {
		rt.Release(argv[i])
	}
	return argv[0]
}

func builtinFixture(t *testing.T) (*Runtime, *testHAL, *VM) {
	t.Helper()
	rt, h := newTestRuntime(t, 64*1024)
	vmach, err := rt.newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	t.Cleanup(vmach.end)
	return rt, h, vmach
}

// ---------------------------------------------------------------------------
// Console built-ins
// ---------------------------------------------------------------------------

func TestPutsRendersPerType(t *testing.T) {
	rt, h, vmach := builtinFixture(t)

	sv, _ := rt.NewStringFrom(vmach.ID, "text")
	defer rt.Release(sv)

	out := callBuiltin(t, rt, vmach, ClassValue(rt.ObjectClass), "puts", FixnumValue(42))
	rt.Release(out)
	callBuiltin(t, rt, vmach, ClassValue(rt.ObjectClass), "puts", sv)
	callBuiltin(t, rt, vmach, ClassValue(rt.ObjectClass), "puts", NilValue())

	if got := h.Output(); got != "42\ntext\n\n" {
		t.Errorf("output = %q, want %q", got, "42\ntext\n\n")
	}
}

func TestInspectQuotesStrings(t *testing.T) {
	rt, h, vmach := builtinFixture(t)
	sv, _ := rt.NewStringFrom(vmach.ID, "s")
	defer rt.Release(sv)

	ret := callBuiltin(t, rt, vmach, ClassValue(rt.ObjectClass), "p", sv)
	defer rt.Release(ret)

	if got := h.Output(); got != "\"s\"\n" {
		t.Errorf("p output = %q, want %q", got, "\"s\"\n")
	}
	if ret.Type != TypeString {
		t.Error("p with one argument should return it")
	}
}

func TestMemoryStatisticsBuiltin(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	ret := callBuiltin(t, rt, vmach, ClassValue(rt.ObjectClass), "memory_statistics")
	defer rt.Release(ret)

	if ret.Type != TypeArray || ret.Ary.Len() != 4 {
		t.Fatalf("memory_statistics = %v, want 4-element array", ret.Type)
	}
	total, used, free, _ := rt.Alloc.Statistics()
	if ret.Ary.Get(0).I != int64(total) {
		t.Errorf("total = %v, want %d", ret.Ary.Get(0), total)
	}
	// used/free drift as the returned array itself is allocated, so only
	// check that both are positive.
	if ret.Ary.Get(1).I <= 0 || ret.Ary.Get(2).I <= 0 {
		t.Errorf("used/free should be positive, got %d/%d", ret.Ary.Get(1).I, ret.Ary.Get(2).I)
	}
	_ = used
	_ = free
}

// ---------------------------------------------------------------------------
// Object built-ins
// ---------------------------------------------------------------------------

func TestObjectComparisonBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	eq := callBuiltin(t, rt, vmach, FixnumValue(3), "==", FloatValue(3.0))
	if eq.Type != TypeTrue {
		t.Error("3 == 3.0 should be true")
	}
	ne := callBuiltin(t, rt, vmach, FixnumValue(3), "!=", FixnumValue(4))
	if ne.Type != TypeTrue {
		t.Error("3 != 4 should be true")
	}
	lt := callBuiltin(t, rt, vmach, FixnumValue(3), "<", FixnumValue(4))
	if lt.Type != TypeTrue {
		t.Error("3 < 4 should be true")
	}
}

func TestClassAndNilBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	cls := callBuiltin(t, rt, vmach, FixnumValue(1), "class")
	if cls.Type != TypeClass || cls.Cls != rt.FixnumClass {
		t.Error("1.class should be Fixnum")
	}
	nilp := callBuiltin(t, rt, vmach, NilValue(), "nil?")
	if nilp.Type != TypeTrue {
		t.Error("nil.nil? should be true")
	}
	nilp2 := callBuiltin(t, rt, vmach, FixnumValue(0), "nil?")
	if nilp2.Type != TypeFalse {
		t.Error("0.nil? should be false")
	}
}

// ---------------------------------------------------------------------------
// String built-ins
// ---------------------------------------------------------------------------

func TestStringBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	sv, _ := rt.NewStringFrom(vmach.ID, "1f")
	defer rt.Release(sv)

	size := callBuiltin(t, rt, vmach, sv, "size")
	if size.I != 2 {
		t.Errorf("size = %v, want 2", size)
	}

	toi := callBuiltin(t, rt, vmach, sv, "to_i", FixnumValue(16))
	if toi.I != 0x1f {
		t.Errorf("to_i(16) = %v, want 31", toi)
	}

	other, _ := rt.NewStringFrom(vmach.ID, "!")
	defer rt.Release(other)
	sum := callBuiltin(t, rt, vmach, sv, "+", other)
	if sum.Type != TypeString || sum.Str.String() != "1f!" {
		t.Errorf("+ = %v, want \"1f!\"", sum)
	}
	rt.Release(sum)

	ch := callBuiltin(t, rt, vmach, sv, "[]", FixnumValue(-1))
	if ch.Type != TypeString || ch.Str.String() != "f" {
		t.Errorf("[-1] = %v, want \"f\"", ch)
	}
	rt.Release(ch)

	oob := callBuiltin(t, rt, vmach, sv, "[]", FixnumValue(9))
	if !oob.IsNil() {
		t.Error("out-of-range index should be nil")
	}
}

// ---------------------------------------------------------------------------
// Array, hash and range built-ins
// ---------------------------------------------------------------------------

func TestArrayBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	av, _ := rt.NewArray(vmach.ID, 4)
	defer rt.Release(av)

	ret := callBuiltin(t, rt, vmach, av, "<<", FixnumValue(10))
	rt.Release(ret)
	ret = callBuiltin(t, rt, vmach, av, "<<", FixnumValue(20))
	rt.Release(ret)

	if size := callBuiltin(t, rt, vmach, av, "size"); size.I != 2 {
		t.Errorf("size = %v, want 2", size)
	}
	if first := callBuiltin(t, rt, vmach, av, "first"); first.I != 10 {
		t.Errorf("first = %v, want 10", first)
	}
	if last := callBuiltin(t, rt, vmach, av, "last"); last.I != 20 {
		t.Errorf("last = %v, want 20", last)
	}

	set := callBuiltin(t, rt, vmach, av, "[]=", FixnumValue(0), FixnumValue(77))
	if set.I != 77 {
		t.Errorf("[]= should return the stored value, got %v", set)
	}
	if got := callBuiltin(t, rt, vmach, av, "[]", FixnumValue(0)); got.I != 77 {
		t.Errorf("[0] = %v, want 77", got)
	}
}

func TestHashBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	hv, _ := rt.NewHash(vmach.ID, 2)
	defer rt.Release(hv)

	k := SymbolValue(rt.Syms.StrToSymID("key"))
	set := callBuiltin(t, rt, vmach, hv, "[]=", k, FixnumValue(5))
	if set.I != 5 {
		t.Errorf("[]= returned %v, want 5", set)
	}
	if got := callBuiltin(t, rt, vmach, hv, "[]", k); got.I != 5 {
		t.Errorf("[] = %v, want 5", got)
	}
	if has := callBuiltin(t, rt, vmach, hv, "key?", k); has.Type != TypeTrue {
		t.Error("key? should be true")
	}
	miss := SymbolValue(rt.Syms.StrToSymID("other"))
	if has := callBuiltin(t, rt, vmach, hv, "key?", miss); has.Type != TypeFalse {
		t.Error("key? on a missing key should be false")
	}
}

func TestRangeBuiltins(t *testing.T) {
	rt, _, vmach := builtinFixture(t)

	rv, _ := rt.NewRange(vmach.ID, FixnumValue(2), FixnumValue(8), true)
	defer rt.Release(rv)

	if first := callBuiltin(t, rt, vmach, rv, "first"); first.I != 2 {
		t.Errorf("first = %v, want 2", first)
	}
	if last := callBuiltin(t, rt, vmach, rv, "last"); last.I != 8 {
		t.Errorf("last = %v, want 8", last)
	}
	if ex := callBuiltin(t, rt, vmach, rv, "exclude_end?"); ex.Type != TypeTrue {
		t.Error("exclude_end? should be true")
	}
}

// ---------------------------------------------------------------------------
// Marshalling helpers
// ---------------------------------------------------------------------------

func TestArgHelpers(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	sv, _ := rt.NewStringFrom(0, "abc")
	defer rt.Release(sv)

	argv := []Value{NilValue(), FixnumValue(7), sv, FloatValue(2.9)}
	if GetIntArg(argv, 3, 1) != 7 {
		t.Error("GetIntArg(1) should read 7")
	}
	if GetIntArg(argv, 3, 3) != 2 {
		t.Error("GetIntArg should truncate floats")
	}
	if GetIntArg(argv, 3, 9) != 0 {
		t.Error("out-of-range arg should read 0")
	}
	if string(GetStringArg(argv, 3, 2)) != "abc" {
		t.Error("GetStringArg(2) should read the bytes")
	}
	if GetStringArg(argv, 3, 1) != nil {
		t.Error("GetStringArg on a fixnum should be nil")
	}
}

// TestHostBuiltinEndToEnd registers a custom built-in the way an
// embedder would and calls it from bytecode.
func TestHostBuiltinEndToEnd(t *testing.T) {
	rt, h := newTestRuntime(t, 64*1024)

	if err := rt.DefineMethod(nil, "adc_read", func(vm *VM, argv []Value, argc int) {
		channel := GetIntArg(argv, argc, 1)
		SetIntReturn(vm, argv, 1000+channel)
	}); err != nil {
		t.Fatalf("DefineMethod: %v", err)
	}

	cb := NewCodeBuilder(1, 10)
	cb.ABC(OpLOADSELF, 1, 0, 0)
	cb.ASBx(OpLOADI, 2, 3)
	cb.ABC(OpSEND, 1, cb.Sym("adc_read"), 1)
	cb.ABC(OpMOVE, 3, 1, 0)
	cb.ABC(OpLOADSELF, 1, 0, 0)
	cb.ABC(OpMOVE, 2, 3, 0)
	cb.ABC(OpSEND, 1, cb.Sym("puts"), 1)
	cb.ABC(OpABORT, 0, 0, 0)

	vmach := runProgram(t, rt, cb)
	if vmach.regs[3].I != 1003 {
		t.Errorf("adc_read(3) = %v, want 1003", vmach.regs[3])
	}
	if !strings.Contains(h.Output(), "1003") {
		t.Errorf("output %q should contain the reading", h.Output())
	}
}
