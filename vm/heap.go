package vm

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Obj: heap-managed composite value
// ---------------------------------------------------------------------------

// ObjKind discriminates the payload of a heap object.
type ObjKind uint8

const (
	ObjInt ObjKind = iota
	ObjFloat
	ObjString
	ObjVec
)

// String returns a human-readable name for the kind.
func (k ObjKind) String() string {
	switch k {
	case ObjInt:
		return "int"
	case ObjFloat:
		return "float"
	case ObjString:
		return "string"
	case ObjVec:
		return "vec"
	default:
		return fmt.Sprintf("ObjKind(%d)", uint8(k))
	}
}

// Obj is a heap-allocated value: a boxed int, a boxed float, an immutable
// string, or a vector of object references. Objects are owned by the Heap and
// referenced from operand stacks, locals and other objects by address.
type Obj struct {
	mark uint8 // GC cycle this object was last proven reachable in
	kind ObjKind
	i    int64
	f    float64
	s    string
	vec  []*Obj
}

// Kind returns the payload kind.
func (o *Obj) Kind() ObjKind {
	return o.kind
}

// Int returns the boxed integer payload.
func (o *Obj) Int() int64 { return o.i }

// Float returns the boxed float payload.
func (o *Obj) Float() float64 { return o.f }

// Str returns the string payload.
func (o *Obj) Str() string { return o.s }

// Vec returns the vector payload.
func (o *Obj) Vec() []*Obj { return o.vec }

// VecPush appends an element to a vector object.
func (o *Obj) VecPush(elem *Obj) {
	o.vec = append(o.vec, elem)
}

// VecSet replaces the element at the given index.
func (o *Obj) VecSet(index int, elem *Obj) {
	o.vec[index] = elem
}

// VecPop removes and returns the last element.
func (o *Obj) VecPop() *Obj {
	last := o.vec[len(o.vec)-1]
	o.vec = o.vec[:len(o.vec)-1]
	return last
}

// VecPopHead removes and returns the first element.
func (o *Obj) VecPopHead() *Obj {
	head := o.vec[0]
	o.vec = o.vec[1:]
	return head
}

// ---------------------------------------------------------------------------
// Heap: owner of all managed objects
// ---------------------------------------------------------------------------

// Heap tracks every live managed object, keyed by address. The address of an
// object is the reference value bytecode manipulates; it stays valid until a
// collection proves the object unreachable.
type Heap struct {
	objects map[uintptr]*Obj
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		objects: make(map[uintptr]*Obj),
	}
}

// Size returns the number of live objects.
func (h *Heap) Size() int {
	return len(h.objects)
}

// Insert takes ownership of an object and returns it.
func (h *Heap) Insert(o *Obj) *Obj {
	h.objects[uintptr(unsafe.Pointer(o))] = o
	return o
}

// InsertInt allocates a boxed integer.
func (h *Heap) InsertInt(i int64) *Obj {
	return h.Insert(&Obj{kind: ObjInt, i: i})
}

// InsertFloat allocates a boxed float.
func (h *Heap) InsertFloat(f float64) *Obj {
	return h.Insert(&Obj{kind: ObjFloat, f: f})
}

// InsertString allocates a string object.
func (h *Heap) InsertString(s string) *Obj {
	return h.Insert(&Obj{kind: ObjString, s: s})
}

// InsertVec allocates an empty vector object.
func (h *Heap) InsertVec() *Obj {
	return h.Insert(&Obj{kind: ObjVec})
}

// Ref returns the reference value identifying an object on the operand stack
// and in locals. The zero reference identifies no object.
func Ref(o *Obj) uint64 {
	if o == nil {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(o)))
}

// Lookup resolves a reference to a live object.
func (h *Heap) Lookup(ref uint64) (*Obj, bool) {
	o, ok := h.objects[uintptr(ref)]
	return o, ok
}

// Deref resolves a reference to a live object, failing with a memory error
// for references the heap does not track.
func (h *Heap) Deref(ref uint64) (*Obj, error) {
	o, ok := h.objects[uintptr(ref)]
	if !ok {
		return nil, fmt.Errorf("%w: dangling object reference 0x%x", ErrMemory, ref)
	}
	return o, nil
}

// DerefString resolves a reference to a string object.
func (h *Heap) DerefString(ref uint64) (string, error) {
	o, err := h.Deref(ref)
	if err != nil {
		return "", err
	}
	if o.kind != ObjString {
		return "", fmt.Errorf("%w: expected string object, got %s", ErrInvalidBytecode, o.kind)
	}
	return o.s, nil
}

// DerefVec resolves a reference to a vector object.
func (h *Heap) DerefVec(ref uint64) (*Obj, error) {
	o, err := h.Deref(ref)
	if err != nil {
		return nil, err
	}
	if o.kind != ObjVec {
		return nil, fmt.Errorf("%w: expected vec object, got %s", ErrInvalidBytecode, o.kind)
	}
	return o, nil
}
