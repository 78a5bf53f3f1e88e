package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the embedder's entry point
// ---------------------------------------------------------------------------

// VM owns all runtime state of one program: the object heap, the string
// intern index, the native registry, the call stack and the FD table. None of
// it is shared across any boundary; the only cross-process sharing is via
// inherited file descriptors after FORK.
type VM struct {
	heap    *Heap
	strings *StringsHeap
	natives *NativeRegistry
	table   FDTable

	unit *Unit

	stackCapacity int
	args          []string
	observer      SpawnObserver
	gcLog         commonlog.Logger
}

// NewVM creates a VM with the baseline native registry and an empty heap.
func NewVM() *VM {
	heap := NewHeap()
	return &VM{
		heap:          heap,
		strings:       NewStringsHeap(heap),
		natives:       NewNativeRegistry(),
		stackCapacity: DefaultStackCapacity,
	}
}

// Natives exposes the registry so embedders can add host functions.
func (vm *VM) Natives() *NativeRegistry {
	return vm.natives
}

// SetArgs sets the program arguments visible to
// std::memory::program_arguments.
func (vm *VM) SetArgs(args []string) {
	vm.args = args
}

// SetStackCapacity overrides the call stack tape size. Takes effect on the
// next Run.
func (vm *VM) SetStackCapacity(capacity int) {
	vm.stackCapacity = capacity
}

// SetSpawnObserver installs an observer for FORK and EXEC.
func (vm *VM) SetSpawnObserver(observer SpawnObserver) {
	vm.observer = observer
}

// SetGCLogger enables the collector's per-cycle debug trace.
func (vm *VM) SetGCLogger(log commonlog.Logger) {
	vm.gcLog = log
}

// LoadUnit parses a wire-form bytecode unit into the VM.
func (vm *VM) LoadUnit(data []byte) error {
	unit, err := LoadUnit(data, vm.heap)
	if err != nil {
		return err
	}
	vm.unit = unit
	return nil
}

// Unit returns the loaded unit, or nil.
func (vm *VM) Unit() *Unit {
	return vm.unit
}

// Run executes the loaded unit from its `<main>` function and returns the
// process exit code. Fatal errors and runtime exceptions are returned as-is;
// EXIT and std::exit terminate cleanly with their code.
func (vm *VM) Run() (int, error) {
	if vm.unit == nil {
		return 1, fmt.Errorf("%w: no unit loaded", ErrInvalidBytecodeStructure)
	}

	mainID, err := vm.unit.MainFunction()
	if err != nil {
		return 1, err
	}

	stack := NewCallStack(vm.stackCapacity)
	gc := NewGC(vm.heap, vm.strings, stack, vm.unit.Pool)
	if vm.gcLog != nil {
		gc.SetLogger(vm.gcLog)
	}

	st := &runtimeState{
		pool:      vm.unit.Pool,
		functions: vm.unit.Functions,
		natives:   vm.natives,
		strings:   vm.strings,
		heap:      vm.heap,
		table:     &vm.table,
		gc:        gc,
		args:      vm.args,
		observer:  vm.observer,
	}

	if err := stack.PushFrame(vm.unit.Functions[mainID], mainID); err != nil {
		return 1, err
	}

	if err := runLoop(st, stack); err != nil {
		var exit *ProcessExit
		if errors.As(err, &exit) {
			return exit.Code, nil
		}
		return 1, err
	}
	return 0, nil
}

// runLoop drives frames until the call stack empties. A frame that returned
// hands ReturnByteCount bytes from its operand stack to its caller's; a frame
// that pushed a callee is resumed once the callee is gone.
func runLoop(st *runtimeState, stack *CallStack) error {
	for !stack.IsEmpty() {
		frame := stack.PeekFrame()
		def, ok := st.functions[frame.FunctionID]
		if !ok {
			return fmt.Errorf("%w: frame references unknown function %s",
				ErrInvalidBytecode, frame.FunctionID)
		}

		returned, err := runFrame(st, frame, stack, def.Instructions)
		if err != nil {
			return err
		}
		if !returned {
			continue
		}

		returnBytes, err := frame.Operands.PopBytes(int(def.ReturnByteCount))
		if err != nil {
			return err
		}
		stack.PopFrame()
		if stack.IsEmpty() {
			break
		}
		if err := stack.PeekFrame().Operands.PushRaw(returnBytes); err != nil {
			return err
		}
	}
	return nil
}

// Report formats an error the way the embedder prints it: the taxonomy kind
// followed by the message.
func Report(err error) string {
	return fmt.Sprintf("%s: %s", ErrorName(err), err.Error())
}
