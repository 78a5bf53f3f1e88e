package vm

// ---------------------------------------------------------------------------
// StringsHeap: dedup index over runtime-produced string objects
// ---------------------------------------------------------------------------

// StringsHeap interns the strings produced at runtime (conversions, CONCAT,
// READ, native results) as heap string objects. Inserting an already-known
// string returns the existing object, so references can be compared cheaply.
// The index holds no objects alive by itself: entries for objects the
// collector sweeps are evicted with them.
type StringsHeap struct {
	heap     *Heap
	interned map[string]*Obj
}

// NewStringsHeap creates an empty intern index over the given heap.
func NewStringsHeap(heap *Heap) *StringsHeap {
	return &StringsHeap{
		heap:     heap,
		interned: make(map[string]*Obj),
	}
}

// Insert interns a string and returns its heap object. The returned
// reference is stable as long as the object stays reachable.
func (s *StringsHeap) Insert(str string) *Obj {
	if o, ok := s.interned[str]; ok {
		return o
	}
	o := s.heap.InsertString(str)
	s.interned[str] = o
	return o
}

// Len returns the number of interned strings.
func (s *StringsHeap) Len() int {
	return len(s.interned)
}

// evict drops the index entry of a swept string object.
func (s *StringsHeap) evict(o *Obj) {
	if o.kind != ObjString {
		return
	}
	if cur, ok := s.interned[o.s]; ok && cur == o {
		delete(s.interned, o.s)
	}
}
