package bytecode

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuilderInternsStrings(t *testing.T) {
	b := NewUnitBuilder()
	first := b.String("hello")
	second := b.String("hello")
	other := b.String("world")

	if first != second {
		t.Errorf("same string interned twice: %d and %d", first, second)
	}
	if other == first {
		t.Errorf("distinct strings share index %d", other)
	}
}

func TestBuilderEmitWidths(t *testing.T) {
	b := NewUnitBuilder()
	f := b.Function("test::f", 0, 0, 0)

	f.Emit(OpReturn)
	if len(f.Code()) != 1 {
		t.Errorf("bare opcode emitted %d bytes", len(f.Code()))
	}

	f.EmitInt(5)
	if len(f.Code()) != 1+9 {
		t.Errorf("PUSH_INT emitted %d bytes total", len(f.Code()))
	}

	f.EmitU32(OpJump, 0)
	if len(f.Code()) != 1+9+5 {
		t.Errorf("JUMP emitted %d bytes total", len(f.Code()))
	}
}

func TestBuilderBigEndianImmediates(t *testing.T) {
	b := NewUnitBuilder()
	f := b.Function("test::f", 0, 0, 0)
	f.EmitInt(0x0102030405060708)

	code := f.Code()
	if Opcode(code[0]) != OpPushInt {
		t.Fatalf("opcode = %#x", code[0])
	}
	if got := binary.BigEndian.Uint64(code[1:]); got != 0x0102030405060708 {
		t.Errorf("immediate = %#x, not big-endian", got)
	}
}

func TestBuilderPatchJump(t *testing.T) {
	b := NewUnitBuilder()
	f := b.Function("test::f", 0, 0, 0)

	placeholder := f.EmitJump(OpJump)
	f.Emit(OpReturn)
	f.PatchJump(placeholder)

	target := binary.BigEndian.Uint32(f.Code()[placeholder:])
	if int(target) != len(f.Code()) {
		t.Errorf("patched target = %d, want %d", target, len(f.Code()))
	}
}

func TestEncodeLayout(t *testing.T) {
	b := NewUnitBuilder()
	b.Signature("test::f", []Type{TypeInt}, TypeVoid)
	f := b.Function("test::f", 8, 8, 0)
	f.Emit(OpReturn)

	data := b.Encode()

	// pool entry count
	if count := binary.BigEndian.Uint32(data); count != 2 {
		t.Fatalf("pool count = %d, want 2", count)
	}
	// first entry: string "test::f"
	if data[4] != EntryKindString {
		t.Errorf("entry 0 kind = %d", data[4])
	}
	length := binary.BigEndian.Uint64(data[5:])
	if length != uint64(len("test::f")) {
		t.Errorf("string length = %d", length)
	}
	if !bytes.Equal(data[13:13+7], []byte("test::f")) {
		t.Errorf("string bytes = %q", data[13:13+7])
	}
	// second entry: signature referencing entry 0
	sig := data[13+7:]
	if sig[0] != EntryKindSignature {
		t.Errorf("entry 1 kind = %d", sig[0])
	}
	if nameIdx := binary.BigEndian.Uint32(sig[1:]); nameIdx != 0 {
		t.Errorf("signature name index = %d", nameIdx)
	}
	if sig[5] != 1 || Type(sig[6]) != TypeInt || Type(sig[7]) != TypeVoid {
		t.Errorf("signature params/return = %v", sig[5:8])
	}
}

func TestOpcodeMetadata(t *testing.T) {
	cases := []struct {
		op    Opcode
		bytes int
	}{
		{OpPushInt, 8},
		{OpPushByte, 1},
		{OpPushString, 4},
		{OpGetQWord, 4},
		{OpIntAdd, 0},
		{OpInvoke, 4},
		{OpFork, 4},
		{OpExec, 1},
		{OpOpen, 4},
		{OpRead, 0},
	}
	for _, tc := range cases {
		info, ok := tc.op.Info()
		if !ok {
			t.Errorf("%s: not in opcode table", tc.op)
			continue
		}
		if info.OperandBytes != tc.bytes {
			t.Errorf("%s: operand bytes = %d, want %d", tc.op, info.OperandBytes, tc.bytes)
		}
	}

	if Opcode(0xEE).IsValid() {
		t.Errorf("0xEE reported as a valid opcode")
	}
}

func TestTypeWidths(t *testing.T) {
	if TypeByte.Width() != 1 || TypeInt.Width() != 8 ||
		TypeFloat.Width() != 8 || TypeString.Width() != 8 || TypeVoid.Width() != 0 {
		t.Errorf("type widths do not match the value encoding")
	}
}
