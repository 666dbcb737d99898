package vm

// ---------------------------------------------------------------------------
// Value: tagged runtime values
// ---------------------------------------------------------------------------

// ValueType discriminates the closed set of runtime value variants.
type ValueType int8

const (
	TypeEmpty ValueType = iota // uninitialized register
	TypeNil
	TypeFalse
	TypeTrue
	TypeFixnum
	TypeFloat
	TypeSymbol
	TypeClass
	TypeObject // refcounted from here down
	TypeProc
	TypeArray
	TypeString
	TypeRange
	TypeHash
)

// typeNames maps value types to their guest-visible class names.
var typeNames = map[ValueType]string{
	TypeEmpty:  "Empty",
	TypeNil:    "NilClass",
	TypeFalse:  "FalseClass",
	TypeTrue:   "TrueClass",
	TypeFixnum: "Fixnum",
	TypeFloat:  "Float",
	TypeSymbol: "Symbol",
	TypeClass:  "Class",
	TypeObject: "Object",
	TypeProc:   "Proc",
	TypeArray:  "Array",
	TypeString: "String",
	TypeRange:  "Range",
	TypeHash:   "Hash",
}

func (t ValueType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "?"
}

// Value is a tagged union holding any runtime datum. Exactly one payload
// field is meaningful for a given Type; the heap variants point at a
// refcounted header.
type Value struct {
	Type ValueType

	I   int64     // TypeFixnum, TypeSymbol (symbol id)
	F   float64   // TypeFloat
	Cls *RClass   // TypeClass
	Obj *RObject  // TypeObject
	Prc *RProc    // TypeProc
	Ary *RArray   // TypeArray
	Str *RString  // TypeString
	Rng *RRange   // TypeRange
	Hsh *RHash    // TypeHash
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func EmptyValue() Value           { return Value{Type: TypeEmpty} }
func NilValue() Value             { return Value{Type: TypeNil} }
func TrueValue() Value            { return Value{Type: TypeTrue} }
func FalseValue() Value           { return Value{Type: TypeFalse} }
func FixnumValue(n int64) Value   { return Value{Type: TypeFixnum, I: n} }
func FloatValue(f float64) Value  { return Value{Type: TypeFloat, F: f} }
func SymbolValue(id SymID) Value  { return Value{Type: TypeSymbol, I: int64(id)} }
func ClassValue(c *RClass) Value  { return Value{Type: TypeClass, Cls: c} }
func BoolValue(b bool) Value {
	if b {
		return TrueValue()
	}
	return FalseValue()
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

// IsNil returns true for the nil value.
func (v Value) IsNil() bool { return v.Type == TypeNil }

// IsNumeric returns true for fixnum and float values.
func (v Value) IsNumeric() bool { return v.Type == TypeFixnum || v.Type == TypeFloat }

// Truthy reports conditional truth: only nil and false are falsy.
func (v Value) Truthy() bool {
	return v.Type != TypeNil && v.Type != TypeFalse
}

// SymID returns the symbol id payload. Only meaningful for TypeSymbol.
func (v Value) SymID() SymID { return SymID(v.I) }

// refCounted reports whether the variant carries a reference count.
func (v Value) refCounted() bool {
	return v.Type >= TypeObject
}

// header returns the refcount header shared by all heap variants, or nil.
func (v Value) header() *refHeader {
	switch v.Type {
	case TypeObject:
		return &v.Obj.refHeader
	case TypeProc:
		return &v.Prc.refHeader
	case TypeArray:
		return &v.Ary.refHeader
	case TypeString:
		return &v.Str.refHeader
	case TypeRange:
		return &v.Rng.refHeader
	case TypeHash:
		return &v.Hsh.refHeader
	}
	return nil
}

// refHeader is embedded at the head of every refcounted heap record.
type refHeader struct {
	refCount int32
	vmID     int32
}

// RefCount returns the current reference count, or 0 for non-heap values.
func (v Value) RefCount() int32 {
	if h := v.header(); h != nil {
		return h.refCount
	}
	return 0
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Dup increments the reference count of a refcounted value. Immediate
// values pass through untouched.
func Dup(v Value) Value {
	if h := v.header(); h != nil {
		h.refCount++
	}
	return v
}

// Release decrements the reference count and, on reaching zero, dispatches
// to the variant's destructor. The passed-in slot is dead after Release;
// callers overwrite or drop it.
func (rt *Runtime) Release(v Value) {
	h := v.header()
	if h == nil {
		return
	}
	h.refCount--
	if h.refCount > 0 {
		return
	}
	switch v.Type {
	case TypeObject:
		rt.instanceDelete(v.Obj)
	case TypeProc:
		rt.procDelete(v.Prc)
	case TypeArray:
		rt.arrayDelete(v.Ary)
	case TypeString:
		rt.stringDelete(v.Str)
	case TypeRange:
		rt.rangeDelete(v.Rng)
	case TypeHash:
		rt.hashDelete(v.Hsh)
	}
}

// clearVMID detaches a value's storage from its owning VM so that the
// block survives free_all of that VM. Used when a value escapes into a
// process-global store.
func (v Value) clearVMID() {
	switch v.Type {
	case TypeArray:
		v.Ary.clearVMID()
	case TypeString:
		v.Str.clearVMID()
	case TypeRange:
		v.Rng.clearVMID()
	case TypeHash:
		v.Hsh.clearVMID()
	case TypeObject:
		v.Obj.clearVMID()
	}
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Compare total-orders two values of equal type and numerically promotes
// fixnum/float pairs. Returns 0, a positive, or a negative count.
// EMPTY and NIL compare equal.
func Compare(a, b Value) int {
	if a.Type != b.Type {
		if a.Type == TypeFixnum && b.Type == TypeFloat {
			return cmpFloat(float64(a.I), b.F)
		}
		if a.Type == TypeFloat && b.Type == TypeFixnum {
			return cmpFloat(a.F, float64(b.I))
		}
		if (a.Type == TypeEmpty && b.Type == TypeNil) ||
			(a.Type == TypeNil && b.Type == TypeEmpty) {
			return 0
		}
		return int(a.Type) - int(b.Type)
	}

	switch a.Type {
	case TypeEmpty, TypeNil, TypeFalse, TypeTrue:
		return 0
	case TypeFixnum, TypeSymbol:
		return cmpInt(a.I, b.I)
	case TypeFloat:
		return cmpFloat(a.F, b.F)
	case TypeClass:
		if a.Cls == b.Cls {
			return 0
		}
		return 1
	case TypeObject:
		if a.Obj == b.Obj {
			return 0
		}
		return 1
	case TypeProc:
		if a.Prc == b.Prc {
			return 0
		}
		return 1
	case TypeArray:
		return arrayCompare(a.Ary, b.Ary)
	case TypeString:
		return stringCompare(a.Str, b.Str)
	case TypeRange:
		return rangeCompare(a.Rng, b.Rng)
	case TypeHash:
		return hashCompare(a.Hsh, b.Hsh)
	}
	return 1
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpFloat orders floats; NaN compares unequal to everything including
// itself, surfacing as -1.
func cmpFloat(a, b float64) int {
	switch {
	case a == b:
		return 0
	case a > b:
		return 1
	}
	return -1
}
