package vm

import (
	"fmt"

	"github.com/modernsh/moshell/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// ConstantPool: read-only table of strings and signatures
// ---------------------------------------------------------------------------

// Signature is a function signature constant.
type Signature struct {
	Name       string
	Params     []bytecode.Type
	ReturnType bytecode.Type
}

// ParamsByteCount returns the total operand width of the parameter list.
func (s *Signature) ParamsByteCount() int {
	total := 0
	for _, p := range s.Params {
		total += p.Width()
	}
	return total
}

type poolEntry struct {
	str *Obj // string entries: the pool-owned heap object
	sig *Signature
}

// ConstantPool holds the constants of a loaded unit, indexed by u32. String
// constants are allocated on the object heap at load time; every collection
// roots them, which gives them process lifetime.
type ConstantPool struct {
	entries []poolEntry
}

// Len returns the number of entries.
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

func (p *ConstantPool) entry(at uint32) (*poolEntry, error) {
	if int(at) >= len(p.entries) {
		return nil, fmt.Errorf("%w: constant index %d out of range, pool has %d entries",
			ErrInvalidBytecode, at, len(p.entries))
	}
	return &p.entries[at], nil
}

// GetString returns the string constant at the given index.
func (p *ConstantPool) GetString(at uint32) (string, error) {
	e, err := p.entry(at)
	if err != nil {
		return "", err
	}
	if e.str == nil {
		return "", fmt.Errorf("%w: constant %d is not a string", ErrInvalidBytecode, at)
	}
	return e.str.Str(), nil
}

// GetStringRef returns the heap object of the string constant at the given
// index. This is the reference PUSH_STRING pushes.
func (p *ConstantPool) GetStringRef(at uint32) (*Obj, error) {
	e, err := p.entry(at)
	if err != nil {
		return nil, err
	}
	if e.str == nil {
		return nil, fmt.Errorf("%w: constant %d is not a string", ErrInvalidBytecode, at)
	}
	return e.str, nil
}

// GetSignature returns the signature constant at the given index.
func (p *ConstantPool) GetSignature(at uint32) (*Signature, error) {
	e, err := p.entry(at)
	if err != nil {
		return nil, err
	}
	if e.sig == nil {
		return nil, fmt.Errorf("%w: constant %d is not a signature", ErrInvalidBytecode, at)
	}
	return e.sig, nil
}

// constants returns the pool-owned string objects, for GC rooting.
func (p *ConstantPool) constants() []*Obj {
	roots := make([]*Obj, 0, len(p.entries))
	for i := range p.entries {
		if p.entries[i].str != nil {
			roots = append(roots, p.entries[i].str)
		}
	}
	return roots
}
