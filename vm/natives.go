package vm

import "fmt"

// ---------------------------------------------------------------------------
// Native registry: host-implemented functions callable from bytecode
// ---------------------------------------------------------------------------

// NativeEnv is the capability set handed to a native: the memory spaces it
// may allocate in, the program arguments, and a way to request a collection.
// Natives never see the call stack or the FD table.
type NativeEnv struct {
	Strings *StringsHeap
	Heap    *Heap
	Args    []string

	// Collect runs one GC cycle over the whole runtime.
	Collect func() GCStats
}

// NativeFunc is a host callback. It pops its arguments from the caller's
// operand stack right to left, pushes its result (if any) back, and reports
// recoverable failures as *RuntimeException.
type NativeFunc func(ops *OperandStack, env *NativeEnv) error

// NativeRegistry maps qualified identifiers (e.g. "lang::Vec::push") to host
// callbacks.
type NativeRegistry struct {
	functions map[string]NativeFunc
}

// NewNativeRegistry creates a registry preloaded with the baseline standard
// library.
func NewNativeRegistry() *NativeRegistry {
	r := &NativeRegistry{
		functions: make(map[string]NativeFunc),
	}
	r.registerStdlib()
	return r
}

// Register binds a qualified name to a callback, replacing any previous
// binding.
func (r *NativeRegistry) Register(name string, fn NativeFunc) {
	r.functions[name] = fn
}

// Lookup finds the callback bound to a qualified name.
func (r *NativeRegistry) Lookup(name string) (NativeFunc, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

// Names returns the number of registered natives.
func (r *NativeRegistry) Names() int {
	return len(r.functions)
}

// popStringRef pops a reference and resolves it to a string object.
func popStringRef(ops *OperandStack, env *NativeEnv) (*Obj, error) {
	ref, err := ops.PopReference()
	if err != nil {
		return nil, err
	}
	o, err := env.Heap.Deref(ref)
	if err != nil {
		return nil, err
	}
	if o.Kind() != ObjString {
		return nil, fmt.Errorf("%w: expected string object, got %s", ErrInvalidBytecode, o.Kind())
	}
	return o, nil
}
