package vm

import (
	"encoding/binary"
	"sync"
)

// ---------------------------------------------------------------------------
// Allocator: single-owner fixed memory pool
// ---------------------------------------------------------------------------

// Every allocation is carved from one caller-supplied byte pool. Blocks
// carry an in-pool header recording their total size, owning VM id (0 for
// process-global) and a free flag, so the pool can be walked for
// statistics and for bulk reclamation when a VM terminates.
//
// Block layout: [size:u32][vmID:u16][flags:u16][payload...]. Offsets handed
// to callers point at the payload.

const (
	blockHeaderSize = 8
	blockAlign      = 8

	flagBlockFree = 1 << 0
)

// NoAlloc is returned when the pool cannot satisfy a request. Callers must
// treat it as out-of-memory and propagate.
const NoAlloc = -1

// Allocator is a first-fit allocator over a contiguous memory region.
type Allocator struct {
	mu   sync.Mutex
	pool []byte
}

// NewAllocator initializes an allocator over the given pool. The pool must
// hold at least one block header; a nil or undersized pool yields an
// allocator that fails every request.
func NewAllocator(pool []byte) *Allocator {
	a := &Allocator{pool: pool}
	if len(pool) >= blockHeaderSize {
		a.writeHeader(0, uint32(len(pool)), 0, flagBlockFree)
	}
	return a
}

func (a *Allocator) writeHeader(off int, size uint32, vmID uint16, flags uint16) {
	binary.LittleEndian.PutUint32(a.pool[off:], size)
	binary.LittleEndian.PutUint16(a.pool[off+4:], vmID)
	binary.LittleEndian.PutUint16(a.pool[off+6:], flags)
}

func (a *Allocator) blockSize(off int) int {
	return int(binary.LittleEndian.Uint32(a.pool[off:]))
}

func (a *Allocator) blockVMID(off int) uint16 {
	return binary.LittleEndian.Uint16(a.pool[off+4:])
}

func (a *Allocator) blockFlags(off int) uint16 {
	return binary.LittleEndian.Uint16(a.pool[off+6:])
}

func (a *Allocator) blockFree(off int) bool {
	return a.blockFlags(off)&flagBlockFree != 0
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// RawAlloc allocates a process-global block and returns the payload
// offset, or NoAlloc when the pool is exhausted.
func (a *Allocator) RawAlloc(size int) int {
	return a.Alloc(0, size)
}

// Alloc allocates a block tagged with the owning VM id. Returns the
// payload offset or NoAlloc.
func (a *Allocator) Alloc(vmID int, size int) int {
	if size < 0 {
		return NoAlloc
	}
	need := blockHeaderSize + alignUp(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	for off := 0; off+blockHeaderSize <= len(a.pool); {
		bsize := a.blockSize(off)
		if bsize < blockHeaderSize {
			break // corrupt chain; fail closed
		}
		if a.blockFree(off) && bsize >= need {
			// Split when the remainder can hold another block.
			if bsize-need >= blockHeaderSize+blockAlign {
				a.writeHeader(off+need, uint32(bsize-need), 0, flagBlockFree)
				a.writeHeader(off, uint32(need), uint16(vmID), 0)
			} else {
				a.writeHeader(off, uint32(bsize), uint16(vmID), 0)
			}
			return off + blockHeaderSize
		}
		off += bsize
	}
	return NoAlloc
}

func alignUp(n int) int {
	return (n + blockAlign - 1) &^ (blockAlign - 1)
}

// ---------------------------------------------------------------------------
// Release
// ---------------------------------------------------------------------------

// RawFree releases the block whose payload starts at off. Freeing NoAlloc
// is a no-op.
func (a *Allocator) RawFree(off int) {
	if off < blockHeaderSize || off > len(a.pool) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(off - blockHeaderSize)
}

// Free releases a VM-tagged block. The vm id is accepted for interface
// symmetry with Alloc; the header records the true owner.
func (a *Allocator) Free(vmID int, off int) {
	a.RawFree(off)
}

func (a *Allocator) freeLocked(blockOff int) {
	size := a.blockSize(blockOff)
	a.writeHeader(blockOff, uint32(size), 0, flagBlockFree)
	a.coalesceLocked()
}

// coalesceLocked merges adjacent free blocks in one forward pass.
func (a *Allocator) coalesceLocked() {
	for off := 0; off+blockHeaderSize <= len(a.pool); {
		size := a.blockSize(off)
		if size < blockHeaderSize {
			return
		}
		next := off + size
		if a.blockFree(off) && next+blockHeaderSize <= len(a.pool) && a.blockFree(next) {
			a.writeHeader(off, uint32(size+a.blockSize(next)), 0, flagBlockFree)
			continue // retry the same block against its new neighbour
		}
		off = next
	}
}

// FreeAll walks the pool and releases every block tagged with the given
// VM id.
func (a *Allocator) FreeAll(vmID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for off := 0; off+blockHeaderSize <= len(a.pool); {
		size := a.blockSize(off)
		if size < blockHeaderSize {
			return
		}
		if !a.blockFree(off) && a.blockVMID(off) == uint16(vmID) {
			a.writeHeader(off, uint32(size), 0, flagBlockFree)
		}
		off += size
	}
	a.coalesceLocked()
}

// ---------------------------------------------------------------------------
// Access and diagnostics
// ---------------------------------------------------------------------------

// Bytes returns the payload view of the block at the given payload offset.
// The slice is capped at the block's payload size.
func (a *Allocator) Bytes(off int) []byte {
	if off < blockHeaderSize || off > len(a.pool) {
		return nil
	}
	blockOff := off - blockHeaderSize
	size := a.blockSize(blockOff) - blockHeaderSize
	return a.pool[off : off+size]
}

// setBlockVMID retags the owner of the block at the given payload offset.
func (a *Allocator) setBlockVMID(off int, vmID int) {
	if off < blockHeaderSize || off > len(a.pool) {
		return
	}
	blockOff := off - blockHeaderSize
	a.mu.Lock()
	binary.LittleEndian.PutUint16(a.pool[blockOff+4:], uint16(vmID))
	a.mu.Unlock()
}

// Statistics reports pool totals: overall size, bytes in live blocks,
// bytes free, and the largest free fragment.
func (a *Allocator) Statistics() (total, used, free, fragment int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total = len(a.pool)
	for off := 0; off+blockHeaderSize <= len(a.pool); {
		size := a.blockSize(off)
		if size < blockHeaderSize {
			break
		}
		if a.blockFree(off) {
			free += size
			if size > fragment {
				fragment = size
			}
		} else {
			used += size
		}
		off += size
	}
	return total, used, free, fragment
}
