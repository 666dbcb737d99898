package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Dumper: IREP tree back to container bytes
// ---------------------------------------------------------------------------

// Dump re-serializes an IREP tree into the bytecode container format.
// Loading the result yields a structurally identical tree.
func (rt *Runtime) Dump(irep *IRep) ([]byte, error) {
	var body bytes.Buffer
	// The record writer needs absolute offsets to honour code alignment,
	// so it is told where the IREP payload will start.
	payloadStart := riteHeaderSize + sectionHdrSize
	if err := rt.dumpRecord(&body, payloadStart, irep); err != nil {
		return nil, err
	}

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
	return out.Bytes(), nil
}

func (rt *Runtime) dumpRecord(w *bytes.Buffer, base int, irep *IRep) error {
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

	writeU16(uint16(irep.NLocals))
	writeU16(uint16(irep.NRegs))
	writeU16(uint16(len(irep.Reps)))
	writeU32(uint32(len(irep.Code)))
	if rt.cfg.Require32BitAlign {
		for (base+w.Len())%4 != 0 {
			w.WriteByte(0)
		}
	}
	for _, c := range irep.Code {
		writeU32(c)
	}

	writeU32(uint32(len(irep.Pools)))
	for _, p := range irep.Pools {
		var kind byte
		var payload []byte
		switch p.Type {
		case TypeString:
			kind = poolKindString
			payload = p.Str.Bytes()
		case TypeFixnum:
			kind = poolKindFixnum
			payload = strconv.AppendInt(nil, p.I, 10)
		case TypeFloat:
			kind = poolKindFloat
			payload = strconv.AppendFloat(nil, p.F, 'g', 17, 64)
		default:
			return fmt.Errorf("%w: pool entry of type %s", ErrBytecodeFormat, p.Type)
		}
		w.WriteByte(kind)
		writeU16(uint16(len(payload)))
		w.Write(payload)
	}

	writeU32(uint32(len(irep.Syms)))
	for _, s := range irep.Syms {
		name := rt.Syms.SymIDToStr(s)
		writeU16(uint16(len(name)))
		w.WriteString(name)
	}

	for _, child := range irep.Reps {
		if err := rt.dumpRecord(w, base, child); err != nil {
			return err
		}
	}
	return nil
}
