package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/modernsh/moshell/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Interpreter: opcode dispatch
// ---------------------------------------------------------------------------

// runtimeState bundles everything a running program touches.
type runtimeState struct {
	pool      *ConstantPool
	functions map[string]*FunctionDefinition
	natives   *NativeRegistry
	strings   *StringsHeap
	heap      *Heap
	table     *FDTable
	gc        *GC
	args      []string
	observer  SpawnObserver
}

// nativeEnv builds the capability set handed to native calls.
func (st *runtimeState) nativeEnv() *NativeEnv {
	return &NativeEnv{
		Strings: st.strings,
		Heap:    st.heap,
		Args:    st.args,
		Collect: st.gc.Run,
	}
}

// readU32 reads a big-endian u32 immediate and advances the instruction
// pointer.
func readU32(code []byte, ip *int) (uint32, error) {
	if *ip+4 > len(code) {
		return 0, fmt.Errorf("%w: truncated u32 immediate at %d", ErrInvalidBytecode, *ip)
	}
	v := binary.BigEndian.Uint32(code[*ip:])
	*ip += 4
	return v, nil
}

// readU64 reads a big-endian u64 immediate and advances the instruction
// pointer.
func readU64(code []byte, ip *int) (uint64, error) {
	if *ip+8 > len(code) {
		return 0, fmt.Errorf("%w: truncated u64 immediate at %d", ErrInvalidBytecode, *ip)
	}
	v := binary.BigEndian.Uint64(code[*ip:])
	*ip += 8
	return v, nil
}

func readU8(code []byte, ip *int) (byte, error) {
	if *ip >= len(code) {
		return 0, fmt.Errorf("%w: truncated byte immediate at %d", ErrInvalidBytecode, *ip)
	}
	b := code[*ip]
	*ip++
	return b, nil
}

// invoke resolves the constant-pool identifier and either pushes a frame for
// a bytecode function or calls a native in place. Bytecode functions shadow
// natives of the same name. Reports whether a new frame was pushed.
func (st *runtimeState) invoke(identifierIdx uint32, ops *OperandStack, callStack *CallStack) (bool, error) {
	identifier, err := st.pool.GetString(identifierIdx)
	if err != nil {
		return false, err
	}

	if def, ok := st.functions[identifier]; ok {
		return true, callStack.PushFrame(def, identifier)
	}

	native, ok := st.natives.Lookup(identifier)
	if !ok {
		return false, fmt.Errorf("%w: could not find function %s", ErrFunctionNotFound, identifier)
	}
	return false, native(ops, st.nativeEnv())
}

// runFrame executes the top frame until it returns, reaches the end of its
// instructions, or pushes a callee frame. Reports true when the frame ended.
func runFrame(st *runtimeState, frame *Frame, callStack *CallStack, code []byte) (bool, error) {
	ip := &frame.IP
	ops := &frame.Operands
	locals := &frame.Locals

	for *ip < len(code) {
		op := bytecode.Opcode(code[*ip])
		*ip++

		switch op {
		case bytecode.OpPushInt:
			value, err := readU64(code, ip)
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(int64(value)); err != nil {
				return false, err
			}

		case bytecode.OpPushByte:
			value, err := readU8(code, ip)
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(int8(value)); err != nil {
				return false, err
			}

		case bytecode.OpPushFloat:
			bits, err := readU64(code, ip)
			if err != nil {
				return false, err
			}
			if err := ops.PushDouble(math.Float64frombits(bits)); err != nil {
				return false, err
			}

		case bytecode.OpPushString:
			index, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			str, err := st.pool.GetStringRef(index)
			if err != nil {
				return false, err
			}
			if err := ops.PushReference(Ref(str)); err != nil {
				return false, err
			}

		case bytecode.OpGetByte:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := locals.GetByte(offset)
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(value); err != nil {
				return false, err
			}

		case bytecode.OpSetByte:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			if err := locals.SetByte(value, offset); err != nil {
				return false, err
			}

		case bytecode.OpGetQWord:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := locals.GetQWord(offset)
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(value); err != nil {
				return false, err
			}

		case bytecode.OpSetQWord:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := locals.SetQWord(value, offset); err != nil {
				return false, err
			}

		case bytecode.OpGetRef:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := locals.GetRef(offset)
			if err != nil {
				return false, err
			}
			if err := ops.PushReference(value); err != nil {
				return false, err
			}

		case bytecode.OpSetRef:
			offset, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			value, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			if err := locals.SetRef(value, offset); err != nil {
				return false, err
			}

		case bytecode.OpPopByte:
			if _, err := ops.PopByte(); err != nil {
				return false, err
			}

		case bytecode.OpPopQWord:
			if _, err := ops.PopBytes(8); err != nil {
				return false, err
			}

		case bytecode.OpPopRef:
			if _, err := ops.PopReference(); err != nil {
				return false, err
			}

		case bytecode.OpDup:
			value, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(value); err != nil {
				return false, err
			}
			if err := ops.PushInt(value); err != nil {
				return false, err
			}

		case bytecode.OpDupByte:
			value, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(value); err != nil {
				return false, err
			}
			if err := ops.PushByte(value); err != nil {
				return false, err
			}

		case bytecode.OpSwap:
			a, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			b, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(a); err != nil {
				return false, err
			}
			if err := ops.PushInt(b); err != nil {
				return false, err
			}

		case bytecode.OpSwap2:
			a, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			b, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			c, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(b); err != nil {
				return false, err
			}
			if err := ops.PushInt(a); err != nil {
				return false, err
			}
			if err := ops.PushInt(c); err != nil {
				return false, err
			}

		case bytecode.OpJump:
			target, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			*ip = int(target)

		case bytecode.OpIfJump, bytecode.OpIfNotJump:
			value, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			target, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			if (value == 1) == (op == bytecode.OpIfJump) {
				*ip = int(target)
			}

		case bytecode.OpReturn:
			return true, nil

		case bytecode.OpIntAdd, bytecode.OpIntSub, bytecode.OpIntMul,
			bytecode.OpIntDiv, bytecode.OpIntMod:
			b, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			a, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			result, err := applyIntArithmetic(op, a, b)
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(result); err != nil {
				return false, err
			}

		case bytecode.OpFloatAdd, bytecode.OpFloatSub, bytecode.OpFloatMul,
			bytecode.OpFloatDiv:
			b, err := ops.PopDouble()
			if err != nil {
				return false, err
			}
			a, err := ops.PopDouble()
			if err != nil {
				return false, err
			}
			if err := ops.PushDouble(applyFloatArithmetic(op, a, b)); err != nil {
				return false, err
			}

		case bytecode.OpByteXor:
			a, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			b, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(a ^ b); err != nil {
				return false, err
			}

		case bytecode.OpIntEq, bytecode.OpIntLt, bytecode.OpIntLe,
			bytecode.OpIntGt, bytecode.OpIntGe:
			b, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			a, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(boolByte(applyIntComparison(op, a, b))); err != nil {
				return false, err
			}

		case bytecode.OpFloatEq, bytecode.OpFloatLt, bytecode.OpFloatLe,
			bytecode.OpFloatGt, bytecode.OpFloatGe:
			b, err := ops.PopDouble()
			if err != nil {
				return false, err
			}
			a, err := ops.PopDouble()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(boolByte(applyFloatComparison(op, a, b))); err != nil {
				return false, err
			}

		case bytecode.OpStrEq:
			bRef, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			aRef, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			b, err := st.heap.DerefString(bRef)
			if err != nil {
				return false, err
			}
			a, err := st.heap.DerefString(aRef)
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(boolByte(a == b)); err != nil {
				return false, err
			}

		case bytecode.OpByteEq:
			b, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			a, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(boolByte(a == b)); err != nil {
				return false, err
			}

		case bytecode.OpByteToInt:
			value, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(int64(value)); err != nil {
				return false, err
			}

		case bytecode.OpIntToByte:
			value, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			// two's-complement truncation to the low 8 bits
			if err := ops.PushByte(int8(value)); err != nil {
				return false, err
			}

		case bytecode.OpIntToStr:
			value, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			str := st.strings.Insert(strconv.FormatInt(value, 10))
			if err := ops.PushReference(Ref(str)); err != nil {
				return false, err
			}

		case bytecode.OpFloatToStr:
			value, err := ops.PopDouble()
			if err != nil {
				return false, err
			}
			str := st.strings.Insert(strconv.FormatFloat(value, 'f', 6, 64))
			if err := ops.PushReference(Ref(str)); err != nil {
				return false, err
			}

		case bytecode.OpConcat:
			rightRef, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			leftRef, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			right, err := st.heap.DerefString(rightRef)
			if err != nil {
				return false, err
			}
			left, err := st.heap.DerefString(leftRef)
			if err != nil {
				return false, err
			}
			str := st.strings.Insert(left + right)
			if err := ops.PushReference(Ref(str)); err != nil {
				return false, err
			}

		case bytecode.OpInvoke:
			identifierIdx, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			pushed, err := st.invoke(identifierIdx, ops, callStack)
			if err != nil {
				return false, err
			}
			if pushed {
				// A callee frame now tops the stack; suspend this one.
				return false, nil
			}

		case bytecode.OpFork:
			parentJump, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			pid, err := forkProcess()
			if err != nil {
				return false, err
			}
			if pid != 0 {
				// Parent: jump over the child's code and remember the pid.
				*ip = int(parentJump)
				if err := ops.PushInt(int64(pid)); err != nil {
					return false, err
				}
				if st.observer != nil {
					st.observer.Forked(pid)
				}
			}

		case bytecode.OpExec:
			argc, err := readU8(code, ip)
			if err != nil {
				return false, err
			}
			argv := make([]string, argc)
			for i := int(argc) - 1; i >= 0; i-- {
				ref, err := ops.PopReference()
				if err != nil {
					return false, err
				}
				argv[i], err = st.heap.DerefString(ref)
				if err != nil {
					return false, err
				}
			}
			if len(argv) == 0 {
				return false, fmt.Errorf("%w: EXEC with empty argv", ErrInvalidBytecode)
			}
			if st.observer != nil {
				st.observer.ExecStarted(argv)
			}
			if err := execProcess(argv); err != nil {
				fmt.Fprintf(os.Stderr, "exec %s: %v\n", argv[0], err)
				return false, &ProcessExit{Code: commandNotRunnable}
			}

		case bytecode.OpWait:
			pid, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := ops.PushByte(waitProcess(int(pid))); err != nil {
				return false, err
			}

		case bytecode.OpExit:
			codeByte, err := ops.PopByte()
			if err != nil {
				return false, err
			}
			return false, &ProcessExit{Code: int(uint8(codeByte))}

		case bytecode.OpOpen:
			flags, err := readU32(code, ip)
			if err != nil {
				return false, err
			}
			pathRef, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			path, err := st.heap.DerefString(pathRef)
			if err != nil {
				return false, err
			}
			fd, err := openFile(path, int(int32(flags)))
			if err != nil {
				return false, err
			}
			if err := ops.PushInt(int64(fd)); err != nil {
				return false, err
			}

		case bytecode.OpClose:
			fd, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			unix.Close(int(fd))

		case bytecode.OpPipe:
			var fds [2]int
			if err := unix.Pipe(fds[:]); err != nil {
				return false, fmt.Errorf("pipe: %w", err)
			}
			if err := ops.PushInt(int64(fds[0])); err != nil {
				return false, err
			}
			if err := ops.PushInt(int64(fds[1])); err != nil {
				return false, err
			}

		case bytecode.OpSetupRedirect:
			targetFD, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			srcFD, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := st.table.PushRedirection(int(srcFD), int(targetFD)); err != nil {
				return false, err
			}
			if err := ops.PushInt(srcFD); err != nil {
				return false, err
			}

		case bytecode.OpRedirect:
			targetFD, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			srcFD, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			if err := dup2(int(srcFD), int(targetFD)); err != nil {
				return false, err
			}
			if err := ops.PushInt(srcFD); err != nil {
				return false, err
			}

		case bytecode.OpPopRedirect:
			st.table.PopRedirection()

		case bytecode.OpRead:
			fd, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			out, err := readAll(int(fd))
			if err != nil {
				return false, err
			}
			out = strings.TrimSuffix(out, "\n")
			if err := ops.PushReference(Ref(st.strings.Insert(out))); err != nil {
				return false, err
			}

		case bytecode.OpWrite:
			ref, err := ops.PopReference()
			if err != nil {
				return false, err
			}
			fd, err := ops.PopInt()
			if err != nil {
				return false, err
			}
			data, err := st.heap.DerefString(ref)
			if err != nil {
				return false, err
			}
			if err := writeAll(int(fd), data); err != nil {
				return false, err
			}

		default:
			return false, fmt.Errorf("%w: unknown opcode 0x%02X at %d",
				ErrInvalidBytecode, byte(op), *ip-1)
		}
	}

	// Fell off the end of the instruction buffer: the frame has returned.
	return true, nil
}

func applyIntArithmetic(op bytecode.Opcode, a, b int64) (int64, error) {
	switch op {
	case bytecode.OpIntAdd:
		return a + b, nil
	case bytecode.OpIntSub:
		return a - b, nil
	case bytecode.OpIntMul:
		return a * b, nil
	case bytecode.OpIntDiv:
		if b == 0 {
			return 0, Panic("Division by zero.")
		}
		return a / b, nil
	case bytecode.OpIntMod:
		if b == 0 {
			return 0, Panic("Division by zero.")
		}
		return a % b, nil
	default:
		return 0, fmt.Errorf("%w: unknown int arithmetic opcode %s", ErrInvalidBytecode, op)
	}
}

func applyFloatArithmetic(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.OpFloatAdd:
		return a + b
	case bytecode.OpFloatSub:
		return a - b
	case bytecode.OpFloatMul:
		return a * b
	default:
		return a / b
	}
}

func applyIntComparison(op bytecode.Opcode, a, b int64) bool {
	switch op {
	case bytecode.OpIntEq:
		return a == b
	case bytecode.OpIntLt:
		return a < b
	case bytecode.OpIntLe:
		return a <= b
	case bytecode.OpIntGt:
		return a > b
	default:
		return a >= b
	}
}

func applyFloatComparison(op bytecode.Opcode, a, b float64) bool {
	switch op {
	case bytecode.OpFloatEq:
		return a == b
	case bytecode.OpFloatLt:
		return a < b
	case bytecode.OpFloatLe:
		return a <= b
	case bytecode.OpFloatGt:
		return a > b
	default:
		return a >= b
	}
}
