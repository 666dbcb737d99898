package vm

import "errors"

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// The closed set of runtime failure kinds. Most are diagnosed on the
// console and execution continues; loader failures, STOP/ABORT, and an
// error returned by an opcode handler (out-of-memory, symbol table full)
// terminate dispatch (see the dispatch loop).
var (
	ErrOutOfMemory     = errors.New("out of memory")
	ErrUndefinedMethod = errors.New("undefined method")
	ErrUninitConstant  = errors.New("uninitialized constant")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrBytecodeFormat  = errors.New("bytecode format error")
	ErrSymbolTableFull = errors.New("symbol table full")
	ErrDivideByZero    = errors.New("divided by 0")
)

// ErrorCode is the per-VM error word observed by the scheduler. Zero
// means the VM halted normally.
type ErrorCode int32

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeOutOfMemory
	ErrCodeUndefinedMethod
	ErrCodeUninitConstant
	ErrCodeTypeMismatch
	ErrCodeBytecodeFormat
	ErrCodeSymbolTableFull
	ErrCodeArithmetic
)

// codeFor maps a runtime failure to its error word.
func codeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrOutOfMemory):
		return ErrCodeOutOfMemory
	case errors.Is(err, ErrUndefinedMethod):
		return ErrCodeUndefinedMethod
	case errors.Is(err, ErrUninitConstant):
		return ErrCodeUninitConstant
	case errors.Is(err, ErrTypeMismatch):
		return ErrCodeTypeMismatch
	case errors.Is(err, ErrBytecodeFormat):
		return ErrCodeBytecodeFormat
	case errors.Is(err, ErrSymbolTableFull):
		return ErrCodeSymbolTableFull
	case errors.Is(err, ErrDivideByZero):
		return ErrCodeArithmetic
	}
	return ErrCodeTypeMismatch
}
