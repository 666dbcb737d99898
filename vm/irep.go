package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// IREP: compiled method units
// ---------------------------------------------------------------------------

// IRep is one immutable compiled unit: code, literal pool, symbol section
// and nested children. An IRep is owned by whoever loaded it; children are
// owned by their parent.
type IRep struct {
	NLocals int
	NRegs   int
	Code    []uint32
	Pools   []Value
	Syms    []SymID
	Reps    []*IRep

	blk int // pool accounting block for the code array
}

// FreeIRep transitively releases an IREP tree: literal pools, children,
// and the code accounting blocks.
func (rt *Runtime) FreeIRep(irep *IRep) {
	if irep == nil {
		return
	}
	for _, p := range irep.Pools {
		rt.Release(p)
	}
	irep.Pools = nil
	for _, child := range irep.Reps {
		rt.FreeIRep(child)
	}
	irep.Reps = nil
	rt.Alloc.RawFree(irep.blk)
	irep.blk = NoAlloc
}

// Equal reports structural equality over code, pools, syms and children.
func (irep *IRep) Equal(other *IRep) bool {
	if irep == nil || other == nil {
		return irep == other
	}
	if irep.NLocals != other.NLocals || irep.NRegs != other.NRegs ||
		len(irep.Code) != len(other.Code) || len(irep.Pools) != len(other.Pools) ||
		len(irep.Syms) != len(other.Syms) || len(irep.Reps) != len(other.Reps) {
		return false
	}
	for i, c := range irep.Code {
		if other.Code[i] != c {
			return false
		}
	}
	for i, p := range irep.Pools {
		if Compare(p, other.Pools[i]) != 0 {
			return false
		}
	}
	for i, s := range irep.Syms {
		if other.Syms[i] != s {
			return false
		}
	}
	for i, r := range irep.Reps {
		if !r.Equal(other.Reps[i]) {
			return false
		}
	}
	return true
}

// Count returns the number of IREP records in the tree.
func (irep *IRep) Count() int {
	n := 1
	for _, r := range irep.Reps {
		n += r.Count()
	}
	return n
}

// ---------------------------------------------------------------------------
// Container format
// ---------------------------------------------------------------------------

// Header: magic "RITE", 4-byte ASCII version, big-endian total size,
// big-endian byte-order marker. Sections follow as {kind:4, length:u32}
// records until "END ". All multi-byte integers are big-endian.
const (
	riteMagic   = "RITE"
	riteVersion = "0100"

	riteHeaderSize  = 16
	riteEndianMark  = 0xfeff
	sectionHdrSize  = 8
	sectionKindIREP = "IREP"
	sectionKindDBG  = "DBG "
	sectionKindLV   = "LV  "
	sectionKindEND  = "END "
)

// Literal pool entry kinds.
const (
	poolKindString = 0
	poolKindFixnum = 1
	poolKindFloat  = 2
)

// loadCursor is a bounds-checked big-endian reader over the blob.
type loadCursor struct {
	data []byte
	off  int
}

func (c *loadCursor) remain() int { return len(c.data) - c.off }

func (c *loadCursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remain() < n {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrBytecodeFormat, c.off)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *loadCursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *loadCursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *loadCursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// align4 advances to the next 4-byte boundary relative to the blob start.
func (c *loadCursor) align4() {
	c.off = (c.off + 3) &^ 3
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadBytecode parses a compiled bytecode container into an IREP tree. On
// any structural error it returns ErrBytecodeFormat (wrapped with detail)
// and releases everything allocated so far; nothing is partially
// installed.
func (rt *Runtime) LoadBytecode(blob []byte) (*IRep, error) {
	c := &loadCursor{data: blob}

	magic, err := c.bytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != riteMagic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrBytecodeFormat, magic)
	}
	version, err := c.bytes(4)
	if err != nil {
		return nil, err
	}
	if string(version) != riteVersion {
		return nil, fmt.Errorf("%w: version %q, want %q", ErrBytecodeFormat, version, riteVersion)
	}
	total, err := c.u32()
	if err != nil {
		return nil, err
	}
	if int(total) > len(blob) {
		return nil, fmt.Errorf("%w: declared size %d exceeds blob %d", ErrBytecodeFormat, total, len(blob))
	}
	mark, err := c.u16()
	if err != nil {
		return nil, err
	}
	if mark != riteEndianMark {
		return nil, fmt.Errorf("%w: byte-order mark %#04x", ErrBytecodeFormat, mark)
	}
	if _, err := c.u16(); err != nil { // reserved
		return nil, err
	}

	var top *IRep
	for {
		kind, err := c.bytes(4)
		if err != nil {
			rt.FreeIRep(top)
			return nil, err
		}
		length, err := c.u32()
		if err != nil {
			rt.FreeIRep(top)
			return nil, err
		}
		switch string(kind) {
		case sectionKindIREP:
			if top != nil {
				rt.FreeIRep(top)
				return nil, fmt.Errorf("%w: duplicate IREP section", ErrBytecodeFormat)
			}
			end := c.off + int(length)
			if end > len(blob) {
				return nil, fmt.Errorf("%w: IREP section overruns container", ErrBytecodeFormat)
			}
			top, err = rt.loadIRepRecord(c)
			if err != nil {
				return nil, err
			}
			if c.off > end {
				rt.FreeIRep(top)
				return nil, fmt.Errorf("%w: IREP record overruns section", ErrBytecodeFormat)
			}
			c.off = end
		case sectionKindDBG, sectionKindLV:
			// Carried for tooling; the VM does not interpret them.
			if _, err := c.bytes(int(length)); err != nil {
				rt.FreeIRep(top)
				return nil, err
			}
		case sectionKindEND:
			if top == nil {
				return nil, fmt.Errorf("%w: no IREP section", ErrBytecodeFormat)
			}
			return top, nil
		default:
			rt.FreeIRep(top)
			return nil, fmt.Errorf("%w: unknown section %q", ErrBytecodeFormat, kind)
		}
	}
}

// loadIRepRecord parses one recursive IREP record at the cursor.
func (rt *Runtime) loadIRepRecord(c *loadCursor) (*IRep, error) {
	nlocals, err := c.u16()
	if err != nil {
		return nil, err
	}
	nregs, err := c.u16()
	if err != nil {
		return nil, err
	}
	rlen, err := c.u16()
	if err != nil {
		return nil, err
	}
	ilen, err := c.u32()
	if err != nil {
		return nil, err
	}
	if rt.cfg.Require32BitAlign {
		c.align4()
	}
	if int(ilen) > c.remain()/4 {
		return nil, fmt.Errorf("%w: code length %d exceeds remaining container", ErrBytecodeFormat, ilen)
	}

	blk := rt.Alloc.RawAlloc(int(ilen) * 4)
	if blk == NoAlloc {
		return nil, ErrOutOfMemory
	}
	irep := &IRep{
		NLocals: int(nlocals),
		NRegs:   int(nregs),
		Code:    make([]uint32, ilen),
		blk:     blk,
	}
	ok := false
	defer func() {
		if !ok {
			rt.FreeIRep(irep)
		}
	}()

	for i := range irep.Code {
		w, err := c.u32()
		if err != nil {
			return nil, err
		}
		irep.Code[i] = w
	}

	// Literal pool: {kind:u8, length:u16, payload}.
	plen, err := c.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < plen; i++ {
		kind, err := c.u8()
		if err != nil {
			return nil, err
		}
		n, err := c.u16()
		if err != nil {
			return nil, err
		}
		payload, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		var v Value
		switch kind {
		case poolKindString:
			if !rt.cfg.UseString {
				return nil, fmt.Errorf("%w: string literal with string support disabled", ErrBytecodeFormat)
			}
			v, err = rt.NewString(0, payload)
			if err != nil {
				return nil, err
			}
		case poolKindFixnum:
			v = FixnumValue(Atoi(payload, 10))
		case poolKindFloat:
			if !rt.cfg.UseFloat {
				return nil, fmt.Errorf("%w: float literal with float support disabled", ErrBytecodeFormat)
			}
			v = FloatValue(parseFloatBytes(payload))
		default:
			return nil, fmt.Errorf("%w: pool entry kind %d", ErrBytecodeFormat, kind)
		}
		irep.Pools = append(irep.Pools, v)
	}

	// Symbol section: {length:u16, name bytes}, interned on load.
	slen, err := c.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < slen; i++ {
		n, err := c.u16()
		if err != nil {
			return nil, err
		}
		name, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		sid := rt.Syms.StrToSymID(string(name))
		if sid == SymNotFound {
			return nil, ErrSymbolTableFull
		}
		irep.Syms = append(irep.Syms, sid)
	}

	// Child records.
	for i := 0; i < int(rlen); i++ {
		child, err := rt.loadIRepRecord(c)
		if err != nil {
			return nil, err
		}
		irep.Reps = append(irep.Reps, child)
	}

	ok = true
	return irep, nil
}

// parseFloatBytes decodes the ASCII float representation used by the
// literal pool.
func parseFloatBytes(b []byte) float64 {
	var f float64
	fmt.Sscanf(string(b), "%g", &f)
	return f
}
