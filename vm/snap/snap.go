// Package snap serializes loaded IREP trees to a canonical CBOR wire
// form. Snapshots are content-addressed by the SHA-256 of the source
// bytecode and carry a unique id, so hosts can cache, ship and compare
// compiled units without re-parsing containers.
package snap

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/hasumikin/picovm/vm"
)

// FormatVersion is bumped on any incompatible change to the wire shape.
const FormatVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snap: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is the envelope around one serialized IREP tree.
type Snapshot struct {
	ID         string   `cbor:"id"`
	Version    int      `cbor:"version"`
	SourceHash [32]byte `cbor:"source_hash"`
	Root       *Unit    `cbor:"root"`
}

// Unit mirrors one IREP record. Symbols travel by name so ids can be
// re-interned by the loading runtime.
type Unit struct {
	NLocals int       `cbor:"nlocals"`
	NRegs   int       `cbor:"nregs"`
	Code    []uint32  `cbor:"code"`
	Pools   []Literal `cbor:"pools"`
	Syms    []string  `cbor:"syms"`
	Reps    []*Unit   `cbor:"reps"`
}

// Literal is one literal pool entry.
type Literal struct {
	Kind byte    `cbor:"kind"` // 0 string, 1 fixnum, 2 float
	Str  string  `cbor:"str,omitempty"`
	Int  int64   `cbor:"int,omitempty"`
	Flt  float64 `cbor:"flt,omitempty"`
}

const (
	literalString = 0
	literalFixnum = 1
	literalFloat  = 2
)

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

// Capture snapshots a loaded IREP tree. source is the container blob the
// tree was loaded from and provides the content address.
func Capture(rt *vm.Runtime, irep *vm.IRep, source []byte) (*Snapshot, error) {
	root, err := captureUnit(rt, irep)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:         uuid.NewString(),
		Version:    FormatVersion,
		SourceHash: sha256.Sum256(source),
		Root:       root,
	}, nil
}

func captureUnit(rt *vm.Runtime, irep *vm.IRep) (*Unit, error) {
	u := &Unit{
		NLocals: irep.NLocals,
		NRegs:   irep.NRegs,
		Code:    append([]uint32(nil), irep.Code...),
	}
	for _, p := range irep.Pools {
		switch p.Type {
		case vm.TypeString:
			u.Pools = append(u.Pools, Literal{Kind: literalString, Str: p.Str.String()})
		case vm.TypeFixnum:
			u.Pools = append(u.Pools, Literal{Kind: literalFixnum, Int: p.I})
		case vm.TypeFloat:
			u.Pools = append(u.Pools, Literal{Kind: literalFloat, Flt: p.F})
		default:
			return nil, fmt.Errorf("snap: pool entry of type %s", p.Type)
		}
	}
	for _, s := range irep.Syms {
		u.Syms = append(u.Syms, rt.Syms.SymIDToStr(s))
	}
	for _, child := range irep.Reps {
		cu, err := captureUnit(rt, child)
		if err != nil {
			return nil, err
		}
		u.Reps = append(u.Reps, cu)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Wire codec
// ---------------------------------------------------------------------------

// Marshal serializes a snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snap: unmarshal snapshot: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("snap: format version %d, want %d", s.Version, FormatVersion)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore rebuilds a loadable container from a snapshot by reassembling
// the unit tree with vm.CodeBuilder and serializing it in the container
// format.
func Restore(rt *vm.Runtime, s *Snapshot) ([]byte, error) {
	cb, err := buildUnit(s.Root)
	if err != nil {
		return nil, err
	}
	return cb.Bytes(rt.Config().Require32BitAlign), nil
}

func buildUnit(u *Unit) (*vm.CodeBuilder, error) {
	if u == nil {
		return nil, fmt.Errorf("snap: snapshot without a root unit")
	}
	cb := vm.NewCodeBuilder(u.NLocals, u.NRegs)
	for _, p := range u.Pools {
		switch p.Kind {
		case literalString:
			cb.PoolStr(p.Str)
		case literalFixnum:
			cb.PoolInt(p.Int)
		case literalFloat:
			cb.PoolFloat(p.Flt)
		default:
			return nil, fmt.Errorf("snap: literal kind %d", p.Kind)
		}
	}
	for _, s := range u.Syms {
		cb.SymAppend(s)
	}
	for _, child := range u.Reps {
		ccb, err := buildUnit(child)
		if err != nil {
			return nil, err
		}
		cb.Child(ccb)
	}
	for _, c := range u.Code {
		cb.Raw(c)
	}
	return cb, nil
}
