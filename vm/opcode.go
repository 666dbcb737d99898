package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Instruction set
// ---------------------------------------------------------------------------

// Opcode is the 7-bit operation field of a 32-bit instruction. The
// numbering is part of the bytecode format and must not change.
type Opcode uint8

const (
	OpNOP       Opcode = 0x00
	OpMOVE      Opcode = 0x01
	OpLOADL     Opcode = 0x02
	OpLOADI     Opcode = 0x03
	OpLOADSYM   Opcode = 0x04
	OpLOADNIL   Opcode = 0x05
	OpLOADSELF  Opcode = 0x06
	OpLOADT     Opcode = 0x07
	OpLOADF     Opcode = 0x08
	OpGETGLOBAL Opcode = 0x09
	OpSETGLOBAL Opcode = 0x0a
	OpGETIV     Opcode = 0x0d
	OpSETIV     Opcode = 0x0e
	OpGETCONST  Opcode = 0x11
	OpSETCONST  Opcode = 0x12
	OpGETMCNST  Opcode = 0x13
	OpGETUPVAR  Opcode = 0x15
	OpSETUPVAR  Opcode = 0x16
	OpJMP       Opcode = 0x17
	OpJMPIF     Opcode = 0x18
	OpJMPNOT    Opcode = 0x19
	OpSEND      Opcode = 0x20
	OpSENDB     Opcode = 0x21
	OpCALL      Opcode = 0x23
	OpSUPER     Opcode = 0x24
	OpARGARY    Opcode = 0x25
	OpENTER     Opcode = 0x26
	OpRETURN    Opcode = 0x29
	OpBLKPUSH   Opcode = 0x2b
	OpADD       Opcode = 0x2c
	OpADDI      Opcode = 0x2d
	OpSUB       Opcode = 0x2e
	OpSUBI      Opcode = 0x2f
	OpMUL       Opcode = 0x30
	OpDIV       Opcode = 0x31
	OpEQ        Opcode = 0x32
	OpLT        Opcode = 0x33
	OpLE        Opcode = 0x34
	OpGT        Opcode = 0x35
	OpGE        Opcode = 0x36
	OpARRAY     Opcode = 0x37
	OpSTRING    Opcode = 0x3d
	OpSTRCAT    Opcode = 0x3e
	OpHASH      Opcode = 0x3f
	OpLAMBDA    Opcode = 0x40
	OpRANGE     Opcode = 0x41
	OpCLASS     Opcode = 0x43
	OpEXEC      Opcode = 0x45
	OpMETHOD    Opcode = 0x46
	OpSCLASS    Opcode = 0x47
	OpTCLASS    Opcode = 0x48
	OpSTOP      Opcode = 0x4a
	OpABORT     Opcode = 0x4b
)

// RETURN modes (operand B).
const (
	ReturnNormal = 0
	ReturnBreak  = 1
)

var opcodeNames = map[Opcode]string{
	OpNOP: "NOP", OpMOVE: "MOVE", OpLOADL: "LOADL", OpLOADI: "LOADI",
	OpLOADSYM: "LOADSYM", OpLOADNIL: "LOADNIL", OpLOADSELF: "LOADSELF",
	OpLOADT: "LOADT", OpLOADF: "LOADF",
	OpGETGLOBAL: "GETGLOBAL", OpSETGLOBAL: "SETGLOBAL",
	OpGETIV: "GETIV", OpSETIV: "SETIV",
	OpGETCONST: "GETCONST", OpSETCONST: "SETCONST", OpGETMCNST: "GETMCNST",
	OpGETUPVAR: "GETUPVAR", OpSETUPVAR: "SETUPVAR",
	OpJMP: "JMP", OpJMPIF: "JMPIF", OpJMPNOT: "JMPNOT",
	OpSEND: "SEND", OpSENDB: "SENDB", OpCALL: "CALL", OpSUPER: "SUPER",
	OpARGARY: "ARGARY", OpENTER: "ENTER", OpRETURN: "RETURN",
	OpBLKPUSH: "BLKPUSH",
	OpADD:     "ADD", OpADDI: "ADDI", OpSUB: "SUB", OpSUBI: "SUBI",
	OpMUL: "MUL", OpDIV: "DIV",
	OpEQ: "EQ", OpLT: "LT", OpLE: "LE", OpGT: "GT", OpGE: "GE",
	OpARRAY: "ARRAY", OpSTRING: "STRING", OpSTRCAT: "STRCAT", OpHASH: "HASH",
	OpLAMBDA: "LAMBDA", OpRANGE: "RANGE",
	OpCLASS: "CLASS", OpEXEC: "EXEC", OpMETHOD: "METHOD",
	OpSCLASS: "SCLASS", OpTCLASS: "TCLASS",
	OpSTOP: "STOP", OpABORT: "ABORT",
}

// Name returns the mnemonic, or a hex placeholder for unknown codes.
func (op Opcode) Name() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

func (op Opcode) String() string { return op.Name() }

// ---------------------------------------------------------------------------
// Field extraction
// ---------------------------------------------------------------------------

// Three 32-bit encoding shapes, from the most significant bit down:
//
//	ABC:  A:9 B:9 C:7 OP:7
//	ABx:  A:9 Bx:16    OP:7   (AsBx sign-extends Bx around 0x7fff)
//	Ax:   Ax:25        OP:7
//
// LAMBDA splits the B/C region into b:14 c:2.

const sBxBias = 0x7fff

func opcodeOf(code uint32) Opcode { return Opcode(code & 0x7f) }

func getA(code uint32) int   { return int((code >> 23) & 0x1ff) }
func getB(code uint32) int   { return int((code >> 14) & 0x1ff) }
func getC(code uint32) int   { return int((code >> 7) & 0x7f) }
func getBx(code uint32) int  { return int((code >> 7) & 0xffff) }
func getSBx(code uint32) int { return getBx(code) - sBxBias }
func getAx(code uint32) int  { return int((code >> 7) & 0x1ffffff) }
func getBz(code uint32) int  { return int((code >> 9) & 0x3fff) }
func getCz(code uint32) int  { return int((code >> 7) & 0x3) }

func encodeABC(op Opcode, a, b, c int) uint32 {
	return uint32(a)<<23 | uint32(b)<<14 | uint32(c)<<7 | uint32(op)
}

func encodeABx(op Opcode, a, bx int) uint32 {
	return uint32(a)<<23 | uint32(bx)<<7 | uint32(op)
}

func encodeASBx(op Opcode, a, sbx int) uint32 {
	return encodeABx(op, a, sbx+sBxBias)
}

func encodeAx(op Opcode, ax int) uint32 {
	return uint32(ax)<<7 | uint32(op)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisasmInstruction renders one instruction.
func DisasmInstruction(pc int, code uint32) string {
	op := opcodeOf(code)
	switch op {
	case OpNOP, OpSTOP, OpABORT, OpSCLASS:
		return fmt.Sprintf("%04d  %s", pc, op)
	case OpLOADSELF, OpLOADNIL, OpLOADT, OpLOADF, OpTCLASS:
		return fmt.Sprintf("%04d  %s\tR%d", pc, op, getA(code))
	case OpLOADI:
		return fmt.Sprintf("%04d  %s\tR%d %d", pc, op, getA(code), getSBx(code))
	case OpJMP, OpJMPIF, OpJMPNOT:
		return fmt.Sprintf("%04d  %s\t%+d (-> %04d)", pc, op, getSBx(code), pc+1+getSBx(code))
	case OpLOADL, OpLOADSYM, OpGETGLOBAL, OpSETGLOBAL, OpGETIV, OpSETIV,
		OpGETCONST, OpSETCONST, OpGETMCNST, OpSTRING, OpARGARY, OpBLKPUSH:
		return fmt.Sprintf("%04d  %s\tR%d %d", pc, op, getA(code), getBx(code))
	case OpENTER:
		return fmt.Sprintf("%04d  %s\t%#x", pc, op, getAx(code))
	case OpLAMBDA:
		return fmt.Sprintf("%04d  %s\tR%d I%d %d", pc, op, getA(code), getBz(code), getCz(code))
	case OpADDI, OpSUBI:
		return fmt.Sprintf("%04d  %s\tR%d %d", pc, op, getA(code), getC(code))
	default:
		return fmt.Sprintf("%04d  %s\tR%d %d %d", pc, op, getA(code), getB(code), getC(code))
	}
}

// Disasm renders an IREP's code section, one instruction per line.
func Disasm(irep *IRep) string {
	var sb strings.Builder
	for pc, code := range irep.Code {
		if pc > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisasmInstruction(pc, code))
	}
	return sb.String()
}
