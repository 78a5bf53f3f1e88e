package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/modernsh/moshell/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Unit snapshots: CBOR cache of a loaded unit
// ---------------------------------------------------------------------------

// cborEncMode uses canonical mode for deterministic encoding, so identical
// units always produce identical snapshots.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type snapshotEntry struct {
	Kind   byte   `cbor:"1,keyasint"`
	Str    string `cbor:"2,keyasint,omitempty"`
	Params []byte `cbor:"3,keyasint,omitempty"`
	Return byte   `cbor:"4,keyasint,omitempty"`
}

type snapshotFunction struct {
	LocalsByteSize      uint32 `cbor:"1,keyasint"`
	ParametersByteCount uint32 `cbor:"2,keyasint"`
	ReturnByteCount     uint8  `cbor:"3,keyasint"`
	Instructions        []byte `cbor:"4,keyasint"`
}

type snapshot struct {
	Pool      []snapshotEntry             `cbor:"1,keyasint"`
	Functions map[string]snapshotFunction `cbor:"2,keyasint"`
}

// MarshalSnapshot serializes a loaded unit to CBOR bytes.
func MarshalSnapshot(unit *Unit) ([]byte, error) {
	snap := snapshot{
		Pool:      make([]snapshotEntry, 0, unit.Pool.Len()),
		Functions: make(map[string]snapshotFunction, len(unit.Functions)),
	}

	for i := range unit.Pool.entries {
		e := &unit.Pool.entries[i]
		if e.str != nil {
			snap.Pool = append(snap.Pool, snapshotEntry{
				Kind: bytecode.EntryKindString,
				Str:  e.str.Str(),
			})
			continue
		}
		params := make([]byte, len(e.sig.Params))
		for p, t := range e.sig.Params {
			params[p] = byte(t)
		}
		snap.Pool = append(snap.Pool, snapshotEntry{
			Kind:   bytecode.EntryKindSignature,
			Str:    e.sig.Name,
			Params: params,
			Return: byte(e.sig.ReturnType),
		})
	}

	for identifier, def := range unit.Functions {
		snap.Functions[identifier] = snapshotFunction{
			LocalsByteSize:      def.LocalsByteSize,
			ParametersByteCount: def.ParametersByteCount,
			ReturnByteCount:     def.ReturnByteCount,
			Instructions:        def.Instructions,
		}
	}

	return cborEncMode.Marshal(&snap)
}

// UnmarshalSnapshot restores a unit from CBOR bytes, allocating pool strings
// on the given heap.
func UnmarshalSnapshot(data []byte, heap *Heap) (*Unit, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: unmarshal snapshot: %v", ErrInvalidBytecodeStructure, err)
	}

	pool := &ConstantPool{entries: make([]poolEntry, 0, len(snap.Pool))}
	for i, e := range snap.Pool {
		switch e.Kind {
		case bytecode.EntryKindString:
			pool.entries = append(pool.entries, poolEntry{str: heap.InsertString(e.Str)})
		case bytecode.EntryKindSignature:
			params := make([]bytecode.Type, len(e.Params))
			for p, t := range e.Params {
				params[p] = bytecode.Type(t)
			}
			pool.entries = append(pool.entries, poolEntry{sig: &Signature{
				Name:       e.Str,
				Params:     params,
				ReturnType: bytecode.Type(e.Return),
			}})
		default:
			return nil, fmt.Errorf("%w: unknown snapshot constant kind %d at entry %d",
				ErrInvalidBytecodeStructure, e.Kind, i)
		}
	}

	functions := make(map[string]*FunctionDefinition, len(snap.Functions))
	for identifier, f := range snap.Functions {
		if f.ParametersByteCount > f.LocalsByteSize {
			return nil, fmt.Errorf("%w: function %s declares %d parameter bytes but only %d locals bytes",
				ErrInvalidBytecodeStructure, identifier, f.ParametersByteCount, f.LocalsByteSize)
		}
		functions[identifier] = &FunctionDefinition{
			LocalsByteSize:      f.LocalsByteSize,
			ParametersByteCount: f.ParametersByteCount,
			ReturnByteCount:     f.ReturnByteCount,
			Instructions:        f.Instructions,
		}
	}

	return &Unit{Pool: pool, Functions: functions}, nil
}

// LoadSnapshot parses a CBOR snapshot into the VM.
func (vm *VM) LoadSnapshot(data []byte) error {
	unit, err := UnmarshalSnapshot(data, vm.heap)
	if err != nil {
		return err
	}
	vm.unit = unit
	return nil
}
