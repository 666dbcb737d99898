package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hasumikin/picovm/hal"
)

// ---------------------------------------------------------------------------
// Console: guest-visible output
// ---------------------------------------------------------------------------

// Console routes guest program output through the HAL write hook. It is
// the surface `puts`, `p` and runtime diagnostics share; host logging
// goes through commonlog instead and never mixes with it.
type Console struct {
	hw hal.HAL
}

// Printf formats and writes to the console output descriptor.
func (c *Console) Printf(format string, args ...any) {
	c.hw.Write(hal.FDStdout, []byte(fmt.Sprintf(format, args...)))
}

// Putchar writes a single byte.
func (c *Console) Putchar(b byte) {
	c.hw.Write(hal.FDStdout, []byte{b})
}

// Write sends raw bytes.
func (c *Console) Write(b []byte) {
	c.hw.Write(hal.FDStdout, b)
}

// Flush drains buffered console output.
func (c *Console) Flush() {
	c.hw.Flush(hal.FDStdout)
}

// ---------------------------------------------------------------------------
// Value rendering
// ---------------------------------------------------------------------------

// ToS renders a value the way the guest's to_s does: nil is empty,
// strings are raw bytes, numbers in decimal.
func (rt *Runtime) ToS(v Value) string {
	switch v.Type {
	case TypeEmpty, TypeNil:
		return ""
	case TypeFalse:
		return "false"
	case TypeTrue:
		return "true"
	case TypeFixnum:
		return strconv.FormatInt(v.I, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case TypeSymbol:
		return rt.Syms.SymIDToStr(v.SymID())
	case TypeClass:
		return v.Cls.Name(rt)
	case TypeString:
		return v.Str.String()
	default:
		return rt.Inspect(v)
	}
}

// Inspect renders a value the way the guest's p does: nil explicit,
// strings quoted, containers recursively.
func (rt *Runtime) Inspect(v Value) string {
	switch v.Type {
	case TypeEmpty, TypeNil:
		return "nil"
	case TypeString:
		return strconv.Quote(v.Str.String())
	case TypeSymbol:
		return ":" + rt.Syms.SymIDToStr(v.SymID())
	case TypeArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i := 0; i < v.Ary.Len(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(rt.Inspect(v.Ary.Get(int64(i))))
		}
		sb.WriteByte(']')
		return sb.String()
	case TypeHash:
		var sb strings.Builder
		sb.WriteByte('{')
		for i := 0; i < len(v.Hsh.data); i += 2 {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(rt.Inspect(v.Hsh.data[i]))
			sb.WriteString("=>")
			sb.WriteString(rt.Inspect(v.Hsh.data[i+1]))
		}
		sb.WriteByte('}')
		return sb.String()
	case TypeRange:
		op := ".."
		if v.Rng.Exclude {
			op = "..."
		}
		return rt.Inspect(v.Rng.First) + op + rt.Inspect(v.Rng.Last)
	case TypeObject:
		return "#<" + v.Obj.Cls.Name(rt) + ">"
	case TypeProc:
		return "#<Proc>"
	default:
		return rt.ToS(v)
	}
}
