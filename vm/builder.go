package vm

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// ---------------------------------------------------------------------------
// CodeBuilder: in-memory bytecode assembly
// ---------------------------------------------------------------------------

// CodeBuilder assembles instruction sequences and serializes them into the
// container format, standing in for the external compiler in tests and
// tooling.
type CodeBuilder struct {
	NLocals int
	NRegs   int

	code  []uint32
	pools []poolLiteral
	syms  []string
	reps  []*CodeBuilder
}

type poolLiteral struct {
	kind byte
	s    string
	i    int64
	f    float64
}

// NewCodeBuilder creates a builder for one compiled unit.
func NewCodeBuilder(nlocals, nregs int) *CodeBuilder {
	return &CodeBuilder{NLocals: nlocals, NRegs: nregs}
}

// ABC appends an instruction in A:9 B:9 C:7 form.
func (cb *CodeBuilder) ABC(op Opcode, a, b, c int) *CodeBuilder {
	cb.code = append(cb.code, encodeABC(op, a, b, c))
	return cb
}

// ABx appends an instruction with an unsigned 16-bit Bx operand.
func (cb *CodeBuilder) ABx(op Opcode, a, bx int) *CodeBuilder {
	cb.code = append(cb.code, encodeABx(op, a, bx))
	return cb
}

// ASBx appends an instruction with a sign-extended Bx operand.
func (cb *CodeBuilder) ASBx(op Opcode, a, sbx int) *CodeBuilder {
	cb.code = append(cb.code, encodeASBx(op, a, sbx))
	return cb
}

// Ax appends an instruction with a 25-bit Ax operand.
func (cb *CodeBuilder) Ax(op Opcode, ax int) *CodeBuilder {
	cb.code = append(cb.code, encodeAx(op, ax))
	return cb
}

// Bz appends an instruction with the split b:14 c:2 operand form.
func (cb *CodeBuilder) Bz(op Opcode, a, bz, cz int) *CodeBuilder {
	cb.code = append(cb.code, uint32(a)<<23|uint32(bz)<<9|uint32(cz)<<7|uint32(op))
	return cb
}

// Raw appends a pre-encoded instruction word.
func (cb *CodeBuilder) Raw(code uint32) *CodeBuilder {
	cb.code = append(cb.code, code)
	return cb
}

// Len returns the number of assembled instructions.
func (cb *CodeBuilder) Len() int { return len(cb.code) }

// PoolStr adds a string literal and returns its pool ordinal.
func (cb *CodeBuilder) PoolStr(s string) int {
	cb.pools = append(cb.pools, poolLiteral{kind: poolKindString, s: s})
	return len(cb.pools) - 1
}

// PoolInt adds an integer literal and returns its pool ordinal.
func (cb *CodeBuilder) PoolInt(i int64) int {
	cb.pools = append(cb.pools, poolLiteral{kind: poolKindFixnum, i: i})
	return len(cb.pools) - 1
}

// PoolFloat adds a float literal and returns its pool ordinal.
func (cb *CodeBuilder) PoolFloat(f float64) int {
	cb.pools = append(cb.pools, poolLiteral{kind: poolKindFloat, f: f})
	return len(cb.pools) - 1
}

// Sym adds a symbol name (deduplicated) and returns its ordinal.
func (cb *CodeBuilder) Sym(name string) int {
	for i, s := range cb.syms {
		if s == name {
			return i
		}
	}
	cb.syms = append(cb.syms, name)
	return len(cb.syms) - 1
}

// SymAppend adds a symbol name without deduplication, preserving the
// ordinal layout of an existing symbol section.
func (cb *CodeBuilder) SymAppend(name string) int {
	cb.syms = append(cb.syms, name)
	return len(cb.syms) - 1
}

// Child attaches a nested unit and returns its ordinal.
func (cb *CodeBuilder) Child(child *CodeBuilder) int {
	cb.reps = append(cb.reps, child)
	return len(cb.reps) - 1
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Bytes serializes the unit tree into a loadable container. align selects
// 4-byte code realignment and must match the loading runtime's
// configuration.
func (cb *CodeBuilder) Bytes(align bool) []byte {
	var body bytes.Buffer
	payloadStart := riteHeaderSize + sectionHdrSize
	cb.writeRecord(&body, payloadStart, align)

	var out bytes.Buffer
	out.WriteString(riteMagic)
	out.WriteString(riteVersion)
	total := riteHeaderSize + sectionHdrSize + body.Len() + sectionHdrSize
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(total))
	out.Write(u32[:])
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], riteEndianMark)
	out.Write(u16[:])
	out.Write([]byte{0, 0})

	out.WriteString(sectionKindIREP)
	binary.BigEndian.PutUint32(u32[:], uint32(body.Len()))
	out.Write(u32[:])
	out.Write(body.Bytes())

	out.WriteString(sectionKindEND)
	binary.BigEndian.PutUint32(u32[:], 0)
	out.Write(u32[:])
	return out.Bytes()
}

func (cb *CodeBuilder) writeRecord(w *bytes.Buffer, base int, align bool) {
	writeU16 := func(v uint16) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		w.Write(b[:])
	}
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		w.Write(b[:])
	}

	writeU16(uint16(cb.NLocals))
	writeU16(uint16(cb.NRegs))
	writeU16(uint16(len(cb.reps)))
	writeU32(uint32(len(cb.code)))
	if align {
		for (base+w.Len())%4 != 0 {
			w.WriteByte(0)
		}
	}
	for _, c := range cb.code {
		writeU32(c)
	}

	writeU32(uint32(len(cb.pools)))
	for _, p := range cb.pools {
		var payload []byte
		switch p.kind {
		case poolKindString:
			payload = []byte(p.s)
		case poolKindFixnum:
			payload = strconv.AppendInt(nil, p.i, 10)
		case poolKindFloat:
			payload = strconv.AppendFloat(nil, p.f, 'g', 17, 64)
		}
		w.WriteByte(p.kind)
		writeU16(uint16(len(payload)))
		w.Write(payload)
	}

	writeU32(uint32(len(cb.syms)))
	for _, s := range cb.syms {
		writeU16(uint16(len(s)))
		w.WriteString(s)
	}

	for _, child := range cb.reps {
		child.writeRecord(w, base, align)
	}
}
