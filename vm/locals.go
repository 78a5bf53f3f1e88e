package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Locals: byte-addressed local storage of one frame
// ---------------------------------------------------------------------------

// Locals is the fixed-size byte window holding a frame's local values,
// indexed by explicit byte offsets. The heading ParametersByteCount bytes are
// pre-filled from the caller's operand stack on frame entry.
type Locals struct {
	bytes []byte
}

// Size returns the declared locals size in bytes.
func (l *Locals) Size() int {
	return len(l.bytes)
}

// GetByte reads the byte at the given offset.
func (l *Locals) GetByte(at uint32) (int8, error) {
	if err := l.check(at, 1); err != nil {
		return 0, err
	}
	return int8(l.bytes[at]), nil
}

// SetByte writes a byte at the given offset.
func (l *Locals) SetByte(b int8, at uint32) error {
	if err := l.check(at, 1); err != nil {
		return err
	}
	l.bytes[at] = byte(b)
	return nil
}

// GetQWord reads the qword at the given offset.
func (l *Locals) GetQWord(at uint32) (int64, error) {
	if err := l.check(at, 8); err != nil {
		return 0, err
	}
	return int64(binary.NativeEndian.Uint64(l.bytes[at:])), nil
}

// SetQWord writes a qword at the given offset.
func (l *Locals) SetQWord(i int64, at uint32) error {
	if err := l.check(at, 8); err != nil {
		return err
	}
	binary.NativeEndian.PutUint64(l.bytes[at:], uint64(i))
	return nil
}

// GetDouble reads the float at the given offset.
func (l *Locals) GetDouble(at uint32) (float64, error) {
	i, err := l.GetQWord(at)
	return math.Float64frombits(uint64(i)), err
}

// SetDouble writes a float at the given offset.
func (l *Locals) SetDouble(d float64, at uint32) error {
	return l.SetQWord(int64(math.Float64bits(d)), at)
}

// GetRef reads the reference at the given offset.
func (l *Locals) GetRef(at uint32) (uint64, error) {
	i, err := l.GetQWord(at)
	return uint64(i), err
}

// SetRef writes a reference at the given offset.
func (l *Locals) SetRef(r uint64, at uint32) error {
	return l.SetQWord(int64(r), at)
}

// window returns the live locals bytes, for GC root scanning.
func (l *Locals) window() []byte {
	return l.bytes
}

func (l *Locals) check(at uint32, width int) error {
	if int(at)+width > len(l.bytes) {
		return fmt.Errorf("%w: access of %d bytes at offset %d, locals size is %d",
			ErrLocalsOutOfBound, width, at, len(l.bytes))
	}
	return nil
}
