package vm

import "testing"

// ---------------------------------------------------------------------------
// Class registry
// ---------------------------------------------------------------------------

func TestDefineClassRegistersOnce(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	a, err := rt.DefineClass("Widget", nil)
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if a.Super != rt.ObjectClass {
		t.Error("nil super should default to Object")
	}
	again, err := rt.DefineClass("Widget", nil)
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if again != a {
		t.Error("redefining a class should return the existing record")
	}
	if rt.LookupClass("Widget") != a {
		t.Error("LookupClass should find the registered class")
	}
}

func TestDefineClassRegistersConstant(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	c, _ := rt.DefineClass("Sensor", nil)
	v, ok := rt.GetConst(c.Sym)
	if !ok || v.Type != TypeClass || v.Cls != c {
		t.Error("class name should resolve as a constant")
	}
}

// ---------------------------------------------------------------------------
// Method lookup along the superclass chain
// ---------------------------------------------------------------------------

func TestFindMethodWalksSuperclassChain(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	a, _ := rt.DefineClass("A", nil)
	b, _ := rt.DefineClass("B", a)

	called := false
	if err := rt.DefineMethod(a, "hello", func(vm *VM, argv []Value, argc int) {
		called = true
		SetIntReturn(vm, argv, 42)
	}); err != nil {
		t.Fatalf("DefineMethod: %v", err)
	}

	inst, err := rt.NewInstance(0, b)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	defer rt.Release(inst)

	sid := rt.Syms.StrToSymID("hello")
	m, owner := rt.findMethodOwner(inst, sid)
	if m == nil {
		t.Fatal("hello should be found on an instance of B via A")
	}
	if owner != a {
		t.Error("method should resolve on A, not B")
	}

	vmach, err := rt.newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	defer vmach.end()
	argv := []Value{Dup(inst)}
	m.Func(vmach, argv, 0)
	rt.Release(argv[0])
	if !called {
		t.Error("found method did not invoke the registered function")
	}

	// Installing the method did not touch B.
	if b.MethodCount() != 0 {
		t.Errorf("B.MethodCount = %d, want 0", b.MethodCount())
	}
	if a.MethodCount() != 1 {
		t.Errorf("A.MethodCount = %d, want 1", a.MethodCount())
	}
}

func TestSubclassOverrideWins(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	a, _ := rt.DefineClass("A", nil)
	b, _ := rt.DefineClass("B", a)

	rt.DefineMethod(a, "id", func(vm *VM, argv []Value, argc int) { SetIntReturn(vm, argv, 1) })
	rt.DefineMethod(b, "id", func(vm *VM, argv []Value, argc int) { SetIntReturn(vm, argv, 2) })

	inst, _ := rt.NewInstance(0, b)
	defer rt.Release(inst)

	m, owner := rt.findMethodOwner(inst, rt.Syms.StrToSymID("id"))
	if m == nil || owner != b {
		t.Fatal("override on B should shadow A's method")
	}
}

func TestDefineMethodDedupesSameName(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	c, _ := rt.DefineClass("C", nil)

	rt.DefineMethod(c, "m", func(vm *VM, argv []Value, argc int) { SetIntReturn(vm, argv, 1) })
	rt.DefineMethod(c, "m", func(vm *VM, argv []Value, argc int) { SetIntReturn(vm, argv, 2) })

	if c.MethodCount() != 1 {
		t.Errorf("MethodCount = %d after redefining, want 1 (old unlinked)", c.MethodCount())
	}

	inst, _ := rt.NewInstance(0, c)
	defer rt.Release(inst)
	m := rt.FindMethod(inst, rt.Syms.StrToSymID("m"))
	if m == nil {
		t.Fatal("m not found")
	}
	vmach, err := rt.newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	defer vmach.end()
	argv := []Value{Dup(inst)}
	m.Func(vmach, argv, 0)
	if argv[0].Type != TypeFixnum || argv[0].I != 2 {
		t.Error("latest definition should win")
	}
	rt.Release(argv[0])
}

func TestClassOfImmediates(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	cases := []struct {
		v    Value
		want *RClass
	}{
		{NilValue(), rt.NilClass},
		{TrueValue(), rt.TrueClass},
		{FalseValue(), rt.FalseClass},
		{FixnumValue(1), rt.FixnumClass},
		{FloatValue(1.0), rt.FloatClass},
		{SymbolValue(0), rt.SymbolClass},
	}
	for _, c := range cases {
		if got := rt.ClassOf(c.v); got != c.want {
			t.Errorf("ClassOf(%v) = %v, want %v", c.v.Type, got.Name(rt), c.want.Name(rt))
		}
	}
}

// ---------------------------------------------------------------------------
// Instances
// ---------------------------------------------------------------------------

func TestInstanceVariables(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	c, _ := rt.DefineClass("Point", nil)
	inst, _ := rt.NewInstance(0, c)
	defer rt.Release(inst)

	x := rt.Syms.StrToSymID("x")
	if !inst.Obj.GetIV(x).IsNil() {
		t.Error("unset ivar should read as nil")
	}
	inst.Obj.SetIV(rt, x, FixnumValue(7))
	if got := inst.Obj.GetIV(x); got.Type != TypeFixnum || got.I != 7 {
		t.Errorf("ivar = %v, want 7", got)
	}
	inst.Obj.SetIV(rt, x, FixnumValue(9))
	if got := inst.Obj.GetIV(x); got.I != 9 {
		t.Errorf("ivar rebind = %v, want 9", got)
	}
}
