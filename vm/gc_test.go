package vm

import (
	"testing"
)

func newTestGC() (*GC, *Heap, *StringsHeap, *CallStack, *ConstantPool) {
	heap := NewHeap()
	strings := NewStringsHeap(heap)
	stack := NewCallStack(1000)
	pool := &ConstantPool{}
	return NewGC(heap, strings, stack, pool), heap, strings, stack, pool
}

func TestGCSweepsUnreachable(t *testing.T) {
	gc, heap, _, _, _ := newTestGC()

	heap.InsertInt(1)
	heap.InsertFloat(2.0)
	heap.InsertString("gone")

	stats := gc.Run()
	if stats.Swept != 3 {
		t.Errorf("swept = %d, want 3", stats.Swept)
	}
	if heap.Size() != 0 {
		t.Errorf("heap size = %d after sweep, want 0", heap.Size())
	}
}

func TestGCKeepsOperandStackRoots(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 0}, "f")
	kept := heap.InsertInt(7)
	lost := heap.InsertInt(8)
	stack.PeekFrame().Operands.PushReference(Ref(kept))

	gc.Run()

	if _, ok := heap.Lookup(Ref(kept)); !ok {
		t.Errorf("object referenced from operand stack was swept")
	}
	if _, ok := heap.Lookup(Ref(lost)); ok {
		t.Errorf("unreferenced object survived")
	}
	if kept.Int() != 7 {
		t.Errorf("surviving object changed: %d", kept.Int())
	}
}

func TestGCKeepsLocalsRoots(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 16}, "f")
	kept := heap.InsertString("alive")
	stack.PeekFrame().Locals.SetRef(Ref(kept), 8)

	gc.Run()

	if _, ok := heap.Lookup(Ref(kept)); !ok {
		t.Errorf("object referenced from locals was swept")
	}
}

func TestGCOverwrittenLocalDropsObject(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 8}, "f")
	obj := heap.InsertVec()
	locals := &stack.PeekFrame().Locals
	locals.SetRef(Ref(obj), 0)
	locals.SetQWord(0, 0)

	gc.Run()

	if _, ok := heap.Lookup(Ref(obj)); ok {
		t.Errorf("overwritten reference kept the object alive")
	}
}

func TestGCMarksVectorChildren(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 8}, "f")
	vec := heap.InsertVec()
	elem := heap.InsertString("elem")
	vec.VecPush(elem)
	stack.PeekFrame().Locals.SetRef(Ref(vec), 0)

	gc.Run()

	if _, ok := heap.Lookup(Ref(elem)); !ok {
		t.Errorf("vector element was swept while its vector is rooted")
	}
}

func TestGCToleratesCycles(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 8}, "f")
	a := heap.InsertVec()
	b := heap.InsertVec()
	a.VecPush(b)
	b.VecPush(a) // back-pointer to ancestor
	stack.PeekFrame().Locals.SetRef(Ref(a), 0)

	gc.Run()
	if heap.Size() != 2 {
		t.Errorf("heap size = %d with rooted cycle, want 2", heap.Size())
	}

	// Drop the root: the whole cycle must go.
	stack.PeekFrame().Locals.SetQWord(0, 0)
	gc.Run()
	if heap.Size() != 0 {
		t.Errorf("heap size = %d after dropping cycle root, want 0", heap.Size())
	}
}

func TestGCRootsConstantPool(t *testing.T) {
	heap := NewHeap()
	strings := NewStringsHeap(heap)
	stack := NewCallStack(100)
	pool := &ConstantPool{entries: []poolEntry{{str: heap.InsertString("const")}}}
	gc := NewGC(heap, strings, stack, pool)

	gc.Run()

	if _, ok := heap.Lookup(Ref(pool.entries[0].str)); !ok {
		t.Errorf("constant pool string was swept")
	}
}

func TestGCEvictsSweptInternedStrings(t *testing.T) {
	gc, heap, strs, _, _ := newTestGC()

	first := strs.Insert("transient")
	gc.Run()
	if _, ok := heap.Lookup(Ref(first)); ok {
		t.Fatalf("unreachable interned string survived")
	}

	// A fresh insert after the sweep must produce a live object again.
	second := strs.Insert("transient")
	if second == first {
		t.Errorf("intern index returned a swept object")
	}
	if _, ok := heap.Lookup(Ref(second)); !ok {
		t.Errorf("re-interned string is not tracked")
	}
}

func TestGCStats(t *testing.T) {
	gc, heap, _, stack, _ := newTestGC()

	stack.PushFrame(&FunctionDefinition{LocalsByteSize: 8}, "f")
	kept := heap.InsertInt(1)
	heap.InsertInt(2)
	stack.PeekFrame().Locals.SetRef(Ref(kept), 0)

	stats := gc.Run()
	if stats.Cycle != 1 {
		t.Errorf("cycle = %d, want 1", stats.Cycle)
	}
	if stats.Swept != 1 {
		t.Errorf("swept = %d, want 1", stats.Swept)
	}
	if stats.Live != 1 {
		t.Errorf("live = %d, want 1", stats.Live)
	}
}
