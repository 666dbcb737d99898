package vm

import (
	"strings"
	"testing"
)

func TestInstructionFieldRoundTrip(t *testing.T) {
	code := encodeABC(OpSEND, 311, 237, 101)
	if opcodeOf(code) != OpSEND {
		t.Error("opcode field corrupted")
	}
	if getA(code) != 311 || getB(code) != 237 || getC(code) != 101 {
		t.Errorf("ABC = %d/%d/%d, want 311/237/101", getA(code), getB(code), getC(code))
	}

	code = encodeABx(OpLOADL, 8, 65535)
	if getA(code) != 8 || getBx(code) != 65535 {
		t.Errorf("ABx = %d/%d, want 8/65535", getA(code), getBx(code))
	}

	for _, sbx := range []int{-32767, -1, 0, 1, 32767} {
		code = encodeASBx(OpJMP, 0, sbx)
		if getSBx(code) != sbx {
			t.Errorf("sBx %d round-tripped to %d", sbx, getSBx(code))
		}
	}

	code = encodeAx(OpENTER, 0x1ffffff)
	if getAx(code) != 0x1ffffff {
		t.Errorf("Ax = %#x, want 0x1ffffff", getAx(code))
	}
}

func TestBzFields(t *testing.T) {
	cb := NewCodeBuilder(0, 0)
	cb.Bz(OpLAMBDA, 3, 1234, 2)
	code := cb.code[0]
	if opcodeOf(code) != OpLAMBDA || getA(code) != 3 || getBz(code) != 1234 || getCz(code) != 2 {
		t.Errorf("Bz fields = %d/%d/%d", getA(code), getBz(code), getCz(code))
	}
}

func TestOpcodeNames(t *testing.T) {
	if OpSEND.Name() != "SEND" || OpSTOP.Name() != "STOP" {
		t.Error("known opcode names wrong")
	}
	if !strings.HasPrefix(Opcode(0x7e).Name(), "OP_") {
		t.Error("unknown opcodes should render as hex placeholders")
	}
}

func TestDisasm(t *testing.T) {
	cb := NewCodeBuilder(1, 4)
	cb.ASBx(OpLOADI, 1, -3)
	cb.ABC(OpSEND, 1, 0, 2)
	cb.ABC(OpSTOP, 0, 0, 0)
	irep := &IRep{Code: cb.code}

	out := Disasm(irep)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("disasm lines = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "LOADI") || !strings.Contains(lines[0], "-3") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "SEND") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "STOP") {
		t.Errorf("line 2 = %q", lines[2])
	}
}
