package vm

import (
	"errors"
	"testing"
)

func newTestStack(capacity int) *OperandStack {
	s := newOperandStack(make([]byte, capacity), 0)
	return &s
}

func TestOperandStackPushPopInt(t *testing.T) {
	ops := newTestStack(64)

	if err := ops.PushInt(-42); err != nil {
		t.Fatalf("PushInt: %v", err)
	}
	v, err := ops.PopInt()
	if err != nil {
		t.Fatalf("PopInt: %v", err)
	}
	if v != -42 {
		t.Errorf("popped %d, want -42", v)
	}
	if ops.Size() != 0 {
		t.Errorf("size = %d after balanced push/pop, want 0", ops.Size())
	}
}

func TestOperandStackPushPopDouble(t *testing.T) {
	ops := newTestStack(64)

	if err := ops.PushDouble(3.25); err != nil {
		t.Fatalf("PushDouble: %v", err)
	}
	v, err := ops.PopDouble()
	if err != nil {
		t.Fatalf("PopDouble: %v", err)
	}
	if v != 3.25 {
		t.Errorf("popped %v, want 3.25", v)
	}
}

func TestOperandStackMixedWidths(t *testing.T) {
	ops := newTestStack(64)

	ops.PushByte(7)
	ops.PushInt(1234)
	ops.PushByte(-1)

	b, _ := ops.PopByte()
	if b != -1 {
		t.Errorf("top byte = %d, want -1", b)
	}
	i, _ := ops.PopInt()
	if i != 1234 {
		t.Errorf("int = %d, want 1234", i)
	}
	b, _ = ops.PopByte()
	if b != 7 {
		t.Errorf("bottom byte = %d, want 7", b)
	}
}

func TestOperandStackUnderflow(t *testing.T) {
	ops := newTestStack(64)

	if _, err := ops.PopInt(); !errors.Is(err, ErrOperandStackUnderflow) {
		t.Errorf("PopInt on empty stack = %v, want OperandStackUnderflow", err)
	}

	ops.PushByte(1)
	if _, err := ops.PopInt(); !errors.Is(err, ErrOperandStackUnderflow) {
		t.Errorf("PopInt with 1 byte = %v, want OperandStackUnderflow", err)
	}
}

func TestOperandStackOverflow(t *testing.T) {
	ops := newTestStack(10)

	if err := ops.PushInt(1); err != nil {
		t.Fatalf("first PushInt: %v", err)
	}
	if err := ops.PushInt(2); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("second PushInt = %v, want StackOverflow", err)
	}
	// The failed push must not have consumed space.
	if ops.Size() != 8 {
		t.Errorf("size = %d after failed push, want 8", ops.Size())
	}
}

func TestOperandStackPopBytesAliasing(t *testing.T) {
	ops := newTestStack(64)

	ops.PushInt(0x0102030405060708)
	popped, err := ops.PopBytes(8)
	if err != nil {
		t.Fatalf("PopBytes: %v", err)
	}
	if len(popped) != 8 {
		t.Fatalf("popped %d bytes, want 8", len(popped))
	}

	// Round trip through PushRaw restores the same value.
	if err := ops.PushRaw(popped); err != nil {
		t.Fatalf("PushRaw: %v", err)
	}
	v, _ := ops.PopInt()
	if v != 0x0102030405060708 {
		t.Errorf("round-tripped value = %#x, want 0x0102030405060708", v)
	}
}

func TestOperandStackReferenceRoundTrip(t *testing.T) {
	ops := newTestStack(64)
	heap := NewHeap()
	obj := heap.InsertInt(5)

	ops.PushReference(Ref(obj))
	ref, err := ops.PopReference()
	if err != nil {
		t.Fatalf("PopReference: %v", err)
	}
	got, ok := heap.Lookup(ref)
	if !ok || got != obj {
		t.Errorf("reference did not resolve to the pushed object")
	}
}
