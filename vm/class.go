package vm

// ---------------------------------------------------------------------------
// RClass: class records and method lookup
// ---------------------------------------------------------------------------

// RClass names a class by its interned symbol, points at its single
// superclass, and heads a singly-linked chain of method records. Classes
// are static: never refcounted, never reclaimed.
type RClass struct {
	Sym   SymID
	Super *RClass
	Procs *RProc
}

// Name returns the class name via the runtime's symbol table.
func (c *RClass) Name(rt *Runtime) string {
	return rt.Syms.SymIDToStr(c.Sym)
}

// MethodCount returns the length of this class's own method chain,
// excluding inherited methods.
func (c *RClass) MethodCount() int {
	n := 0
	for p := c.Procs; p != nil; p = p.Next {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Registry operations
// ---------------------------------------------------------------------------

// DefineClass interns name and returns the existing class of that name or
// chains a new one under super (Object when super is nil).
func (rt *Runtime) DefineClass(name string, super *RClass) (*RClass, error) {
	sid := rt.Syms.StrToSymID(name)
	if sid == SymNotFound {
		return nil, ErrSymbolTableFull
	}
	if c, ok := rt.classes[sid]; ok {
		return c, nil
	}
	if super == nil {
		super = rt.ObjectClass
	}
	c := &RClass{Sym: sid, Super: super}
	rt.classes[sid] = c
	// A class name doubles as a constant, so bytecode can reach the
	// class again via GETCONST.
	rt.consts[sid] = ClassValue(c)
	return c, nil
}

// LookupClass finds a registered class by name, or nil.
func (rt *Runtime) LookupClass(name string) *RClass {
	sid := rt.Syms.Lookup(name)
	if sid == SymNotFound {
		return nil
	}
	return rt.classes[sid]
}

// DefineMethod registers a host built-in on a class under name. Passing a
// nil class targets Object. A previously installed method of the same
// name anywhere down the chain of cls is unlinked, so the new definition
// overrides at define time.
func (rt *Runtime) DefineMethod(cls *RClass, name string, fn BuiltinFunc) error {
	if cls == nil {
		cls = rt.ObjectClass
	}
	sid := rt.Syms.StrToSymID(name)
	if sid == SymNotFound {
		return ErrSymbolTableFull
	}
	p, err := rt.newCProc(fn)
	if err != nil {
		return err
	}
	p.Sym = sid
	rt.installMethod(cls, p)
	return nil
}

// installMethod prepends p to the class's chain and unlinks one later
// method bound to the same symbol, if any.
func (rt *Runtime) installMethod(cls *RClass, p *RProc) {
	p.Next = cls.Procs
	cls.Procs = p

	for cur := p; cur.Next != nil; cur = cur.Next {
		if cur.Next.Sym == p.Sym {
			dead := cur.Next
			cur.Next = dead.Next
			dead.Next = nil
			rt.Release(Value{Type: TypeProc, Prc: dead})
			break
		}
	}
}

// FindMethod walks from the receiver's class along the superclass chain
// and returns the first method bound to sym, or nil.
func (rt *Runtime) FindMethod(recv Value, sym SymID) *RProc {
	for cls := rt.ClassOf(recv); cls != nil; cls = cls.Super {
		for p := cls.Procs; p != nil; p = p.Next {
			if p.Sym == sym {
				return p
			}
		}
	}
	return nil
}

// ClassOf resolves the class a value dispatches through.
func (rt *Runtime) ClassOf(v Value) *RClass {
	switch v.Type {
	case TypeNil, TypeEmpty:
		return rt.NilClass
	case TypeFalse:
		return rt.FalseClass
	case TypeTrue:
		return rt.TrueClass
	case TypeFixnum:
		return rt.FixnumClass
	case TypeFloat:
		return rt.FloatClass
	case TypeSymbol:
		return rt.SymbolClass
	case TypeClass:
		return v.Cls // class-side sends dispatch through the class itself
	case TypeObject:
		return v.Obj.Cls
	case TypeProc:
		return rt.ProcClass
	case TypeArray:
		return rt.ArrayClass
	case TypeString:
		return rt.StringClass
	case TypeRange:
		return rt.RangeClass
	case TypeHash:
		return rt.HashClass
	}
	return rt.ObjectClass
}

// bootstrapClasses creates the built-in class hierarchy rooted at Object.
func (rt *Runtime) bootstrapClasses() error {
	mk := func(name string, super *RClass) (*RClass, error) {
		sid := rt.Syms.StrToSymID(name)
		if sid == SymNotFound {
			return nil, ErrSymbolTableFull
		}
		c := &RClass{Sym: sid, Super: super}
		rt.classes[sid] = c
		rt.consts[sid] = ClassValue(c)
		return c, nil
	}

	var err error
	if rt.ObjectClass, err = mk("Object", nil); err != nil {
		return err
	}
	names := []struct {
		name string
		dst  **RClass
	}{
		{"NilClass", &rt.NilClass},
		{"FalseClass", &rt.FalseClass},
		{"TrueClass", &rt.TrueClass},
		{"Fixnum", &rt.FixnumClass},
		{"Float", &rt.FloatClass},
		{"Symbol", &rt.SymbolClass},
		{"Proc", &rt.ProcClass},
		{"Array", &rt.ArrayClass},
		{"String", &rt.StringClass},
		{"Range", &rt.RangeClass},
		{"Hash", &rt.HashClass},
	}
	for _, n := range names {
		if *n.dst, err = mk(n.name, rt.ObjectClass); err != nil {
			return err
		}
	}
	return nil
}
