package vm

import "testing"

// ---------------------------------------------------------------------------
// Allocation basics
// ---------------------------------------------------------------------------

func TestAllocatorRawAllocFree(t *testing.T) {
	a := NewAllocator(make([]byte, 1024))

	total, used, free, _ := a.Statistics()
	if total != 1024 {
		t.Fatalf("total = %d, want 1024", total)
	}
	if used != 0 {
		t.Fatalf("fresh pool used = %d, want 0", used)
	}

	off := a.RawAlloc(100)
	if off == NoAlloc {
		t.Fatal("RawAlloc failed on an empty pool")
	}
	if len(a.Bytes(off)) < 100 {
		t.Errorf("payload %d bytes, want >= 100", len(a.Bytes(off)))
	}

	_, used, _, _ = a.Statistics()
	if used == 0 {
		t.Error("used should be non-zero after alloc")
	}

	a.RawFree(off)
	_, used, free, frag := a.Statistics()
	if used != 0 {
		t.Errorf("used = %d after free, want 0", used)
	}
	if free != 1024 || frag != 1024 {
		t.Errorf("free/fragment = %d/%d after free, want 1024/1024 (coalesced)", free, frag)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(make([]byte, 256))
	if off := a.RawAlloc(10 * 1024); off != NoAlloc {
		t.Error("oversized alloc should fail")
	}
	// Fill the pool, then expect failure.
	var offs []int
	for {
		off := a.RawAlloc(32)
		if off == NoAlloc {
			break
		}
		offs = append(offs, off)
	}
	if len(offs) == 0 {
		t.Fatal("no allocations succeeded")
	}
	if off := a.RawAlloc(32); off != NoAlloc {
		t.Error("alloc should fail once the pool is full")
	}
	for _, off := range offs {
		a.RawFree(off)
	}
	_, used, _, _ := a.Statistics()
	if used != 0 {
		t.Errorf("used = %d after freeing everything, want 0", used)
	}
}

func TestAllocatorCoalescing(t *testing.T) {
	a := NewAllocator(make([]byte, 1024))
	o1 := a.RawAlloc(64)
	o2 := a.RawAlloc(64)
	o3 := a.RawAlloc(64)
	if o1 == NoAlloc || o2 == NoAlloc || o3 == NoAlloc {
		t.Fatal("setup allocs failed")
	}
	// Free out of order; neighbours must merge.
	a.RawFree(o1)
	a.RawFree(o3)
	a.RawFree(o2)
	_, _, free, frag := a.Statistics()
	if free != 1024 || frag != 1024 {
		t.Errorf("free/fragment = %d/%d, want one merged 1024 block", free, frag)
	}
}

func TestAllocatorFragmentStatistic(t *testing.T) {
	a := NewAllocator(make([]byte, 1024))
	o1 := a.RawAlloc(64)
	o2 := a.RawAlloc(64)
	_ = o2
	o3 := a.RawAlloc(64)
	a.RawFree(o1)
	a.RawFree(o3)
	_, _, free, frag := a.Statistics()
	if frag >= free {
		// Two disjoint free regions: the largest fragment is smaller
		// than the total free space.
		t.Errorf("fragment %d should be < free %d with a hole in the middle", frag, free)
	}
}

// ---------------------------------------------------------------------------
// Per-VM tagging
// ---------------------------------------------------------------------------

func TestAllocatorFreeAll(t *testing.T) {
	a := NewAllocator(make([]byte, 2048))
	g := a.RawAlloc(64)   // process-global
	v1a := a.Alloc(1, 64) // vm 1
	v1b := a.Alloc(1, 64)
	v2 := a.Alloc(2, 64) // vm 2
	if g == NoAlloc || v1a == NoAlloc || v1b == NoAlloc || v2 == NoAlloc {
		t.Fatal("setup allocs failed")
	}

	_, usedBefore, _, _ := a.Statistics()
	a.FreeAll(1)
	_, usedAfter, _, _ := a.Statistics()

	if usedAfter >= usedBefore {
		t.Error("FreeAll(1) should release vm 1's blocks")
	}
	// Global and vm-2 blocks must survive.
	if a.blockFree(g - blockHeaderSize) {
		t.Error("process-global block freed by FreeAll(1)")
	}
	if a.blockFree(v2 - blockHeaderSize) {
		t.Error("vm 2's block freed by FreeAll(1)")
	}
	if !a.blockFree(v1a - blockHeaderSize) {
		t.Error("vm 1's block not freed")
	}

	a.RawFree(g)
	a.FreeAll(2)
	_, used, _, _ := a.Statistics()
	if used != 0 {
		t.Errorf("used = %d after freeing everything, want 0", used)
	}
}

func TestAllocatorSetBlockVMID(t *testing.T) {
	a := NewAllocator(make([]byte, 1024))
	off := a.Alloc(3, 64)
	a.setBlockVMID(off, 0)
	a.FreeAll(3)
	if a.blockFree(off - blockHeaderSize) {
		t.Fatal("untagged block should survive FreeAll of its old owner")
	}
}
