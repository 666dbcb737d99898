package vm

import "testing"

// ---------------------------------------------------------------------------
// Truthiness and predicates
// ---------------------------------------------------------------------------

func TestTruthiness(t *testing.T) {
	falsy := []Value{NilValue(), FalseValue()}
	for _, v := range falsy {
		if v.Truthy() {
			t.Errorf("%v should be falsy", v.Type)
		}
	}
	truthy := []Value{TrueValue(), EmptyValue(), FixnumValue(0), FixnumValue(-1), FloatValue(0.0), SymbolValue(3)}
	for _, v := range truthy {
		if !v.Truthy() {
			t.Errorf("%v should be truthy", v.Type)
		}
	}
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

func TestDupReleaseBalance(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	_, used0, _, _ := rt.Alloc.Statistics()

	sv, err := rt.NewStringFrom(0, "hello")
	if err != nil {
		t.Fatalf("NewStringFrom: %v", err)
	}
	if sv.RefCount() != 1 {
		t.Fatalf("fresh refcount = %d, want 1", sv.RefCount())
	}

	// Any sequence of paired dup/release returns to the initial level.
	for n := 1; n <= 8; n++ {
		for i := 0; i < n; i++ {
			Dup(sv)
		}
		for i := 0; i < n; i++ {
			rt.Release(sv)
		}
		if sv.RefCount() != 1 {
			t.Fatalf("after %d dup/release pairs refcount = %d, want 1", n, sv.RefCount())
		}
	}

	rt.Release(sv)
	_, used, _, _ := rt.Alloc.Statistics()
	if used != used0 {
		t.Errorf("used = %d after final release, want %d (no leak)", used, used0)
	}
}

func TestDupOnImmediatesIsNoop(t *testing.T) {
	for _, v := range []Value{NilValue(), TrueValue(), FixnumValue(9), FloatValue(1.5), SymbolValue(2)} {
		d := Dup(v)
		if d.RefCount() != 0 {
			t.Errorf("immediate %v has refcount %d", v.Type, d.RefCount())
		}
	}
}

func TestReleaseCascadesIntoContainers(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	_, used0, _, _ := rt.Alloc.Statistics()

	av, err := rt.NewArray(1, 4)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	sv, err := rt.NewStringFrom(1, "element")
	if err != nil {
		t.Fatalf("NewStringFrom: %v", err)
	}
	if err := av.Ary.Push(rt, sv); err != nil {
		t.Fatalf("Push: %v", err)
	}

	rt.Release(av) // must release the contained string too
	_, used, _, _ := rt.Alloc.Statistics()
	if used != used0 {
		t.Errorf("used = %d after container release, want %d", used, used0)
	}
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func TestCompareReflexive(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	sv, _ := rt.NewStringFrom(0, "abc")
	defer rt.Release(sv)

	values := []Value{
		NilValue(), TrueValue(), FalseValue(), EmptyValue(),
		FixnumValue(0), FixnumValue(-7), FloatValue(2.25), SymbolValue(1), sv,
	}
	for _, v := range values {
		if c := Compare(v, v); c != 0 {
			t.Errorf("Compare(%v, %v) = %d, want 0", v.Type, v.Type, c)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	pairs := [][2]Value{
		{FixnumValue(1), FixnumValue(2)},
		{FloatValue(1.5), FloatValue(2.5)},
		{FixnumValue(3), FloatValue(3.5)},
		{SymbolValue(1), SymbolValue(4)},
	}
	for _, p := range pairs {
		ab := Compare(p[0], p[1])
		ba := Compare(p[1], p[0])
		if ab == 0 || ba == 0 || (ab > 0) == (ba > 0) {
			t.Errorf("Compare not antisymmetric: %d vs %d", ab, ba)
		}
	}
}

func TestCompareNumericPromotion(t *testing.T) {
	if Compare(FixnumValue(2), FloatValue(2.0)) != 0 {
		t.Error("2 should equal 2.0")
	}
	if Compare(FixnumValue(2), FloatValue(2.5)) >= 0 {
		t.Error("2 should be less than 2.5")
	}
	if Compare(FloatValue(3.5), FixnumValue(3)) <= 0 {
		t.Error("3.5 should be greater than 3")
	}
}

func TestCompareEmptyEqualsNil(t *testing.T) {
	if Compare(EmptyValue(), NilValue()) != 0 {
		t.Error("EMPTY and NIL should compare equal")
	}
	if Compare(NilValue(), EmptyValue()) != 0 {
		t.Error("NIL and EMPTY should compare equal")
	}
}

func TestCompareStrings(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	a, _ := rt.NewStringFrom(0, "apple")
	b, _ := rt.NewStringFrom(0, "banana")
	defer rt.Release(a)
	defer rt.Release(b)

	if Compare(a, b) >= 0 {
		t.Error("apple should sort before banana")
	}
	if Compare(b, a) <= 0 {
		t.Error("banana should sort after apple")
	}
}

func TestCompareArraysElementwise(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	mk := func(ns ...int64) Value {
		av, err := rt.NewArray(0, len(ns))
		if err != nil {
			t.Fatalf("NewArray: %v", err)
		}
		for _, n := range ns {
			av.Ary.Push(rt, FixnumValue(n))
		}
		return av
	}
	a := mk(1, 2, 3)
	b := mk(1, 2, 4)
	c := mk(1, 2)
	defer rt.Release(a)
	defer rt.Release(b)
	defer rt.Release(c)

	if Compare(a, b) >= 0 {
		t.Error("[1,2,3] < [1,2,4]")
	}
	if Compare(a, c) <= 0 {
		t.Error("[1,2,3] > [1,2] (shared prefix, longer wins)")
	}
}

func TestCompareRanges(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)
	a, _ := rt.NewRange(0, FixnumValue(1), FixnumValue(5), false)
	b, _ := rt.NewRange(0, FixnumValue(1), FixnumValue(5), true)
	defer rt.Release(a)
	defer rt.Release(b)

	if Compare(a, a) != 0 {
		t.Error("range should equal itself")
	}
	if Compare(a, b) == 0 {
		t.Error("exclusivity must distinguish ranges")
	}
}

func TestCompareHashesByKeySet(t *testing.T) {
	rt, _ := newTestRuntime(t, 16*1024)

	mk := func(pairs ...int64) Value {
		hv, err := rt.NewHash(0, len(pairs)/2)
		if err != nil {
			t.Fatalf("NewHash: %v", err)
		}
		for i := 0; i < len(pairs); i += 2 {
			hv.Hsh.Set(rt, FixnumValue(pairs[i]), FixnumValue(pairs[i+1]))
		}
		return hv
	}
	a := mk(1, 10, 2, 20)
	b := mk(2, 20, 1, 10) // same pairs, different insertion order
	c := mk(1, 10, 2, 99)
	defer rt.Release(a)
	defer rt.Release(b)
	defer rt.Release(c)

	if Compare(a, b) != 0 {
		t.Error("hashes with equal pairs should compare equal regardless of order")
	}
	if Compare(a, c) == 0 {
		t.Error("hashes with different values should differ")
	}
}

// ---------------------------------------------------------------------------
// Atoi
// ---------------------------------------------------------------------------

func TestAtoi(t *testing.T) {
	cases := []struct {
		in   string
		base int64
		want int64
	}{
		{"123", 10, 123},
		{"-45", 10, -45},
		{"+7", 10, 7},
		{"  42", 10, 42},
		{"ff", 16, 255},
		{"1010", 2, 10},
		{"12abc", 10, 12},
		{"", 10, 0},
		{"abc", 10, 0},
	}
	for _, c := range cases {
		if got := Atoi([]byte(c.in), c.base); got != c.want {
			t.Errorf("Atoi(%q, %d) = %d, want %d", c.in, c.base, got, c.want)
		}
	}
}
