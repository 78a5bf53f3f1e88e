package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/modernsh/moshell/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Unit loader: wire format -> in-memory unit
// ---------------------------------------------------------------------------

// byteReader walks a unit's bytes. All multi-byte integers on the wire are
// big-endian.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *byteReader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("%w: unit truncated at offset %d, need %d more bytes",
			ErrInvalidBytecodeStructure, r.pos, n-r.remaining())
	}
	return nil
}

func (r *byteReader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// LoadUnit parses a bytecode unit from its wire form. Constant pool strings
// are allocated on the given heap; the pool roots them on every collection.
func LoadUnit(data []byte, heap *Heap) (*Unit, error) {
	r := &byteReader{data: data}

	pool, err := loadConstantPool(r, heap)
	if err != nil {
		return nil, err
	}

	functions, err := loadFunctions(r, pool)
	if err != nil {
		return nil, err
	}

	return &Unit{Pool: pool, Functions: functions}, nil
}

func loadConstantPool(r *byteReader, heap *Heap) (*ConstantPool, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}

	pool := &ConstantPool{entries: make([]poolEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch kind {
		case bytecode.EntryKindString:
			length, err := r.u64()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			pool.entries = append(pool.entries, poolEntry{str: heap.InsertString(string(raw))})

		case bytecode.EntryKindSignature:
			sig, err := loadSignature(r, pool, i)
			if err != nil {
				return nil, err
			}
			pool.entries = append(pool.entries, poolEntry{sig: sig})

		default:
			return nil, fmt.Errorf("%w: unknown constant kind %d at entry %d",
				ErrInvalidBytecodeStructure, kind, i)
		}
	}
	return pool, nil
}

func loadSignature(r *byteReader, pool *ConstantPool, at uint32) (*Signature, error) {
	nameIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	if nameIdx >= at {
		return nil, fmt.Errorf("%w: signature %d names forward constant %d",
			ErrInvalidBytecodeStructure, at, nameIdx)
	}
	name, err := pool.GetString(nameIdx)
	if err != nil {
		return nil, fmt.Errorf("%w: signature %d: %v", ErrInvalidBytecodeStructure, at, err)
	}

	paramCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	params := make([]bytecode.Type, paramCount)
	for p := range params {
		tag, err := r.u8()
		if err != nil {
			return nil, err
		}
		params[p] = bytecode.Type(tag)
		if !params[p].IsValid() {
			return nil, fmt.Errorf("%w: signature %s has unknown parameter type %d",
				ErrInvalidBytecodeStructure, name, tag)
		}
	}

	retTag, err := r.u8()
	if err != nil {
		return nil, err
	}
	ret := bytecode.Type(retTag)
	if !ret.IsValid() {
		return nil, fmt.Errorf("%w: signature %s has unknown return type %d",
			ErrInvalidBytecodeStructure, name, retTag)
	}

	return &Signature{Name: name, Params: params, ReturnType: ret}, nil
}

func loadFunctions(r *byteReader, pool *ConstantPool) (map[string]*FunctionDefinition, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}

	functions := make(map[string]*FunctionDefinition, count)
	for i := uint32(0); i < count; i++ {
		identifierIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		identifier, err := pool.GetString(identifierIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: function %d: %v", ErrInvalidBytecodeStructure, i, err)
		}
		if _, exists := functions[identifier]; exists {
			return nil, fmt.Errorf("%w: duplicate function %s", ErrInvalidBytecodeStructure, identifier)
		}

		def, err := loadFunction(r, identifier)
		if err != nil {
			return nil, err
		}
		functions[identifier] = def
	}
	return functions, nil
}

func loadFunction(r *byteReader, identifier string) (*FunctionDefinition, error) {
	localsByteSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	parametersByteCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	returnByteCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	instructionCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	instructions, err := r.bytes(int(instructionCount))
	if err != nil {
		return nil, err
	}

	if parametersByteCount > localsByteSize {
		return nil, fmt.Errorf("%w: function %s declares %d parameter bytes but only %d locals bytes",
			ErrInvalidBytecodeStructure, identifier, parametersByteCount, localsByteSize)
	}
	if uint32(returnByteCount) > localsByteSize {
		return nil, fmt.Errorf("%w: function %s declares %d return bytes but only %d locals bytes",
			ErrInvalidBytecodeStructure, identifier, returnByteCount, localsByteSize)
	}

	return &FunctionDefinition{
		LocalsByteSize:      localsByteSize,
		ParametersByteCount: parametersByteCount,
		ReturnByteCount:     returnByteCount,
		Instructions:        instructions,
	}, nil
}
