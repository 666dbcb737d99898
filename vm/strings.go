package vm

import "strings"

// ---------------------------------------------------------------------------
// RString: length-counted byte string
// ---------------------------------------------------------------------------

// RString stores its bytes in the memory pool, null-terminated so host
// routines can hand the payload straight to C-style consumers.
type RString struct {
	refHeader
	a    *Allocator
	off  int // pool payload offset
	size int // logical length, excluding the terminator
}

// NewString creates a string value owned by the given VM from a byte
// slice. Returns an out-of-memory error when the pool is exhausted.
func (rt *Runtime) NewString(vmID int, b []byte) (Value, error) {
	off := rt.Alloc.Alloc(vmID, len(b)+1)
	if off == NoAlloc {
		return NilValue(), ErrOutOfMemory
	}
	buf := rt.Alloc.Bytes(off)
	copy(buf, b)
	buf[len(b)] = 0

	s := &RString{
		refHeader: refHeader{refCount: 1, vmID: int32(vmID)},
		a:         rt.Alloc,
		off:       off,
		size:      len(b),
	}
	return Value{Type: TypeString, Str: s}, nil
}

// NewStringFrom creates a string value from a Go string.
func (rt *Runtime) NewStringFrom(vmID int, s string) (Value, error) {
	return rt.NewString(vmID, []byte(s))
}

func (rt *Runtime) stringDelete(s *RString) {
	rt.Alloc.RawFree(s.off)
	s.off = NoAlloc
	s.size = 0
}

// Bytes returns the string payload (without the terminator).
func (s *RString) Bytes() []byte {
	if s.off == NoAlloc {
		return nil
	}
	return s.a.Bytes(s.off)[:s.size]
}

// String returns the payload as a Go string.
func (s *RString) String() string { return string(s.Bytes()) }

// Len returns the byte length.
func (s *RString) Len() int { return s.size }

func (s *RString) clearVMID() {
	s.vmID = 0
	s.a.setBlockVMID(s.off, 0)
}

// Append grows the string in place by reallocating its pool block.
func (s *RString) Append(rt *Runtime, b []byte) error {
	newOff := rt.Alloc.Alloc(int(s.vmID), s.size+len(b)+1)
	if newOff == NoAlloc {
		return ErrOutOfMemory
	}
	buf := rt.Alloc.Bytes(newOff)
	copy(buf, s.Bytes())
	copy(buf[s.size:], b)
	buf[s.size+len(b)] = 0

	rt.Alloc.RawFree(s.off)
	s.off = newOff
	s.size += len(b)
	return nil
}

// Index returns the byte at i as a one-character string value, or nil when
// out of range. Negative indices count from the end.
func (s *RString) Index(rt *Runtime, vmID int, i int64) (Value, error) {
	n := int64(s.size)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return NilValue(), nil
	}
	return rt.NewString(vmID, []byte{s.Bytes()[i]})
}

func stringCompare(a, b *RString) int {
	return strings.Compare(string(a.Bytes()), string(b.Bytes()))
}

// ---------------------------------------------------------------------------
// ASCII to integer, base-aware
// ---------------------------------------------------------------------------

// Atoi converts a byte string to an integer in the given base, consuming
// leading spaces and an optional sign, and stopping at the first
// non-digit. Matches guest String#to_i semantics (no error on trailing
// garbage, 0 on no digits).
func Atoi(b []byte, base int64) int64 {
	var ret int64
	var neg bool
	i := 0
	for i < len(b) && b[i] == ' ' {
		i++
	}
	if i < len(b) {
		switch b[i] {
		case '-':
			neg = true
			i++
		case '+':
			i++
		}
	}
	for ; i < len(b); i++ {
		ch := b[i]
		var n int64
		switch {
		case ch >= 'a':
			n = int64(ch-'a') + 10
		case ch >= 'A':
			n = int64(ch-'A') + 10
		case ch >= '0' && ch <= '9':
			n = int64(ch - '0')
		default:
			n = base // terminate
		}
		if n >= base {
			break
		}
		ret = ret*base + n
	}
	if neg {
		return -ret
	}
	return ret
}
