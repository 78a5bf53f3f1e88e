package bytecode

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Constant pool entries
// ---------------------------------------------------------------------------

// Entry kind tags as they appear on the wire.
const (
	EntryKindString    byte = 0
	EntryKindSignature byte = 1
)

// SignatureEntry describes a function signature constant.
type SignatureEntry struct {
	NameIndex  uint32 // pool index of the interned identifier string
	Params     []Type
	ReturnType Type
}

// poolEntry is either a string constant or a function signature.
type poolEntry struct {
	kind      byte
	str       string
	signature SignatureEntry
}

// ---------------------------------------------------------------------------
// UnitBuilder: assembles a bytecode unit
// ---------------------------------------------------------------------------

// UnitBuilder assembles a constant pool and a set of function definitions
// into the wire form consumed by the VM loader.
type UnitBuilder struct {
	entries   []poolEntry
	strings   map[string]uint32 // interned string -> pool index
	functions []*FunctionBuilder
}

// NewUnitBuilder creates an empty unit builder.
func NewUnitBuilder() *UnitBuilder {
	return &UnitBuilder{
		strings: make(map[string]uint32),
	}
}

// String interns a string constant in the pool and returns its index.
func (b *UnitBuilder) String(value string) uint32 {
	if idx, ok := b.strings[value]; ok {
		return idx
	}
	idx := uint32(len(b.entries))
	b.entries = append(b.entries, poolEntry{kind: EntryKindString, str: value})
	b.strings[value] = idx
	return idx
}

// Signature adds a function signature constant and returns its index.
// The identifier string is interned first.
func (b *UnitBuilder) Signature(name string, params []Type, ret Type) uint32 {
	nameIdx := b.String(name)
	idx := uint32(len(b.entries))
	b.entries = append(b.entries, poolEntry{
		kind: EntryKindSignature,
		signature: SignatureEntry{
			NameIndex:  nameIdx,
			Params:     params,
			ReturnType: ret,
		},
	})
	return idx
}

// Function starts a new function definition. The identifier is interned in
// the pool. Instructions are emitted through the returned FunctionBuilder.
func (b *UnitBuilder) Function(identifier string, localsByteSize, parametersByteCount uint32, returnByteCount uint8) *FunctionBuilder {
	f := &FunctionBuilder{
		unit:                b,
		identifierIndex:     b.String(identifier),
		localsByteSize:      localsByteSize,
		parametersByteCount: parametersByteCount,
		returnByteCount:     returnByteCount,
	}
	b.functions = append(b.functions, f)
	return f
}

// Encode serializes the unit to the wire layout: a big-endian constant pool
// followed by the function definitions.
func (b *UnitBuilder) Encode() []byte {
	var out []byte

	out = binary.BigEndian.AppendUint32(out, uint32(len(b.entries)))
	for _, e := range b.entries {
		out = append(out, e.kind)
		switch e.kind {
		case EntryKindString:
			out = binary.BigEndian.AppendUint64(out, uint64(len(e.str)))
			out = append(out, e.str...)
		case EntryKindSignature:
			out = binary.BigEndian.AppendUint32(out, e.signature.NameIndex)
			out = append(out, byte(len(e.signature.Params)))
			for _, p := range e.signature.Params {
				out = append(out, byte(p))
			}
			out = append(out, byte(e.signature.ReturnType))
		}
	}

	out = binary.BigEndian.AppendUint32(out, uint32(len(b.functions)))
	for _, f := range b.functions {
		out = binary.BigEndian.AppendUint32(out, f.identifierIndex)
		out = binary.BigEndian.AppendUint32(out, f.localsByteSize)
		out = binary.BigEndian.AppendUint32(out, f.parametersByteCount)
		out = append(out, f.returnByteCount)
		out = binary.BigEndian.AppendUint32(out, uint32(len(f.code)))
		out = append(out, f.code...)
	}

	return out
}

// ---------------------------------------------------------------------------
// FunctionBuilder: emits instructions for one function
// ---------------------------------------------------------------------------

// FunctionBuilder emits the instruction stream of a single function.
// All multi-byte immediates are written big-endian.
type FunctionBuilder struct {
	unit                *UnitBuilder
	identifierIndex     uint32
	localsByteSize      uint32
	parametersByteCount uint32
	returnByteCount     uint8
	code                []byte
}

// Emit appends a bare opcode and returns its offset.
func (f *FunctionBuilder) Emit(op Opcode) int {
	offset := len(f.code)
	f.code = append(f.code, byte(op))
	return offset
}

// EmitU8 appends an opcode with a one-byte immediate.
func (f *FunctionBuilder) EmitU8(op Opcode, operand byte) int {
	offset := f.Emit(op)
	f.code = append(f.code, operand)
	return offset
}

// EmitU32 appends an opcode with a big-endian u32 immediate.
func (f *FunctionBuilder) EmitU32(op Opcode, operand uint32) int {
	offset := f.Emit(op)
	f.code = binary.BigEndian.AppendUint32(f.code, operand)
	return offset
}

// EmitInt appends PUSH_INT with a big-endian i64 immediate.
func (f *FunctionBuilder) EmitInt(value int64) int {
	offset := f.Emit(OpPushInt)
	f.code = binary.BigEndian.AppendUint64(f.code, uint64(value))
	return offset
}

// EmitFloat appends PUSH_FLOAT with the big-endian IEEE-754 bit pattern.
func (f *FunctionBuilder) EmitFloat(value float64) int {
	offset := f.Emit(OpPushFloat)
	f.code = binary.BigEndian.AppendUint64(f.code, math.Float64bits(value))
	return offset
}

// EmitString interns the string in the unit pool and appends PUSH_STRING.
func (f *FunctionBuilder) EmitString(value string) int {
	return f.EmitU32(OpPushString, f.unit.String(value))
}

// EmitInvoke interns the callee identifier and appends INVOKE.
func (f *FunctionBuilder) EmitInvoke(identifier string) int {
	return f.EmitU32(OpInvoke, f.unit.String(identifier))
}

// EmitJump appends a jump opcode with a placeholder target and returns the
// offset of the placeholder for later patching.
func (f *FunctionBuilder) EmitJump(op Opcode) int {
	f.Emit(op)
	placeholder := len(f.code)
	f.code = append(f.code, 0xFF, 0xFF, 0xFF, 0xFF)
	return placeholder
}

// PatchJump resolves a placeholder emitted by EmitJump to the current offset.
func (f *FunctionBuilder) PatchJump(placeholderOffset int) {
	f.PatchJumpTo(placeholderOffset, len(f.code))
}

// PatchJumpTo resolves a placeholder emitted by EmitJump to a specific target.
func (f *FunctionBuilder) PatchJumpTo(placeholderOffset, target int) {
	binary.BigEndian.PutUint32(f.code[placeholderOffset:], uint32(target))
}

// CurrentOffset returns the offset the next emitted instruction will have.
func (f *FunctionBuilder) CurrentOffset() int {
	return len(f.code)
}

// Code returns the emitted instruction bytes.
func (f *FunctionBuilder) Code() []byte {
	return f.code
}
