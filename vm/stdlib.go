package vm

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Baseline standard library natives
// ---------------------------------------------------------------------------

// stdin is shared across read_line calls so buffered bytes are not lost.
var stdin = bufio.NewReader(os.Stdin)

// registerStdlib installs the fixed baseline natives. Their qualified names
// and stack effects are part of the VM's public contract.
func (r *NativeRegistry) registerStdlib() {
	r.Register("lang::Int::to_string", intToString)
	r.Register("lang::Float::to_string", floatToString)

	r.Register("lang::String::concat", strConcat)
	r.Register("lang::String::eq", strEq)
	r.Register("lang::String::split", strSplit)
	r.Register("lang::String::bytes", strBytes)

	r.Register("lang::Vec::push", vecPush)
	r.Register("lang::Vec::pop", vecPop)
	r.Register("lang::Vec::pop_head", vecPopHead)
	r.Register("lang::Vec::len", vecLen)
	r.Register("lang::Vec::[]", vecIndex)
	r.Register("lang::Vec::[]=", vecIndexSet)

	r.Register("std::panic", stdPanic)
	r.Register("std::exit", stdExit)
	r.Register("std::env", stdEnv)
	r.Register("std::set_env", stdSetEnv)
	r.Register("std::read_line", stdReadLine)
	r.Register("std::new_vec", stdNewVec)
	r.Register("std::some", stdSome)
	r.Register("std::none", stdNone)

	r.Register("std::memory::gc", memGC)
	r.Register("std::memory::empty_operands", memEmptyOperands)
	r.Register("std::memory::program_arguments", memProgramArguments)

	r.Register("std::convert::ceil", convertCeil)
	r.Register("std::convert::floor", convertFloor)
	r.Register("std::convert::round", convertRound)
	r.Register("std::convert::parse_int_radix", convertParseIntRadix)
}

// ---------------------------------------------------------------------------
// lang::Int / lang::Float
// ---------------------------------------------------------------------------

func intToString(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopInt()
	if err != nil {
		return err
	}
	return ops.PushReference(Ref(env.Strings.Insert(strconv.FormatInt(value, 10))))
}

func floatToString(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopDouble()
	if err != nil {
		return err
	}
	return ops.PushReference(Ref(env.Strings.Insert(strconv.FormatFloat(value, 'f', 6, 64))))
}

// ---------------------------------------------------------------------------
// lang::String
// ---------------------------------------------------------------------------

func strConcat(ops *OperandStack, env *NativeEnv) error {
	right, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	left, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	return ops.PushReference(Ref(env.Strings.Insert(left.Str() + right.Str())))
}

func strEq(ops *OperandStack, env *NativeEnv) error {
	b, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	a, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	return ops.PushByte(boolByte(a.Str() == b.Str()))
}

func strSplit(ops *OperandStack, env *NativeEnv) error {
	delim, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	str, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	if delim.Str() == "" {
		return Panic("Cannot split with an empty delimiter.")
	}
	vec := env.Heap.InsertVec()
	for _, part := range strings.Split(str.Str(), delim.Str()) {
		vec.VecPush(env.Strings.Insert(part))
	}
	return ops.PushReference(Ref(vec))
}

func strBytes(ops *OperandStack, env *NativeEnv) error {
	str, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	vec := env.Heap.InsertVec()
	for _, b := range []byte(str.Str()) {
		vec.VecPush(env.Heap.InsertInt(int64(b)))
	}
	return ops.PushReference(Ref(vec))
}

// ---------------------------------------------------------------------------
// lang::Vec
// ---------------------------------------------------------------------------

func popVecRef(ops *OperandStack, env *NativeEnv) (*Obj, error) {
	ref, err := ops.PopReference()
	if err != nil {
		return nil, err
	}
	return env.Heap.DerefVec(ref)
}

func vecPush(ops *OperandStack, env *NativeEnv) error {
	elemRef, err := ops.PopReference()
	if err != nil {
		return err
	}
	elem, err := env.Heap.Deref(elemRef)
	if err != nil {
		return err
	}
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	vec.VecPush(elem)
	return nil
}

func vecPop(ops *OperandStack, env *NativeEnv) error {
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	if len(vec.Vec()) == 0 {
		return Panic("Cannot pop empty vector.")
	}
	return ops.PushReference(Ref(vec.VecPop()))
}

func vecPopHead(ops *OperandStack, env *NativeEnv) error {
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	if len(vec.Vec()) == 0 {
		return Panic("Cannot pop empty vector.")
	}
	return ops.PushReference(Ref(vec.VecPopHead()))
}

func vecLen(ops *OperandStack, env *NativeEnv) error {
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	return ops.PushInt(int64(len(vec.Vec())))
}

func vecIndex(ops *OperandStack, env *NativeEnv) error {
	index, err := ops.PopInt()
	if err != nil {
		return err
	}
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	if index < 0 || index >= int64(len(vec.Vec())) {
		return Panic("Index out of bounds: %d, vector size: %d.", index, len(vec.Vec()))
	}
	return ops.PushReference(Ref(vec.Vec()[index]))
}

func vecIndexSet(ops *OperandStack, env *NativeEnv) error {
	elemRef, err := ops.PopReference()
	if err != nil {
		return err
	}
	elem, err := env.Heap.Deref(elemRef)
	if err != nil {
		return err
	}
	index, err := ops.PopInt()
	if err != nil {
		return err
	}
	vec, err := popVecRef(ops, env)
	if err != nil {
		return err
	}
	if index < 0 || index >= int64(len(vec.Vec())) {
		return Panic("Index out of bounds: %d, vector size: %d.", index, len(vec.Vec()))
	}
	vec.VecSet(int(index), elem)
	return nil
}

// ---------------------------------------------------------------------------
// std
// ---------------------------------------------------------------------------

func stdPanic(ops *OperandStack, env *NativeEnv) error {
	message, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	return Panic("%s", message.Str())
}

func stdExit(ops *OperandStack, env *NativeEnv) error {
	code, err := ops.PopByte()
	if err != nil {
		return err
	}
	return &ProcessExit{Code: int(uint8(code))}
}

// stdEnv pushes the value of an environment variable as a string reference,
// or the none reference when the variable is unset.
func stdEnv(ops *OperandStack, env *NativeEnv) error {
	name, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	value, ok := os.LookupEnv(name.Str())
	if !ok {
		return ops.PushReference(0)
	}
	return ops.PushReference(Ref(env.Strings.Insert(value)))
}

func stdSetEnv(ops *OperandStack, env *NativeEnv) error {
	value, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	name, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	os.Setenv(name.Str(), value.Str())
	return nil
}

func stdReadLine(ops *OperandStack, env *NativeEnv) error {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return ops.PushReference(Ref(env.Strings.Insert("")))
	}
	line = strings.TrimSuffix(line, "\n")
	return ops.PushReference(Ref(env.Strings.Insert(line)))
}

func stdNewVec(ops *OperandStack, env *NativeEnv) error {
	return ops.PushReference(Ref(env.Heap.InsertVec()))
}

// stdSome boxes the popped qword in a heap object and pushes its reference.
func stdSome(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopInt()
	if err != nil {
		return err
	}
	return ops.PushReference(Ref(env.Heap.InsertInt(value)))
}

// stdNone pushes the none reference.
func stdNone(ops *OperandStack, env *NativeEnv) error {
	return ops.PushReference(0)
}

// ---------------------------------------------------------------------------
// std::memory
// ---------------------------------------------------------------------------

func memGC(ops *OperandStack, env *NativeEnv) error {
	env.Collect()
	return nil
}

func memEmptyOperands(ops *OperandStack, env *NativeEnv) error {
	return ops.PushByte(boolByte(ops.Size() == 0))
}

func memProgramArguments(ops *OperandStack, env *NativeEnv) error {
	vec := env.Heap.InsertVec()
	for _, arg := range env.Args {
		vec.VecPush(env.Strings.Insert(arg))
	}
	return ops.PushReference(Ref(vec))
}

// ---------------------------------------------------------------------------
// std::convert
// ---------------------------------------------------------------------------

func convertCeil(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopDouble()
	if err != nil {
		return err
	}
	return ops.PushInt(int64(math.Ceil(value)))
}

func convertFloor(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopDouble()
	if err != nil {
		return err
	}
	return ops.PushInt(int64(math.Floor(value)))
}

func convertRound(ops *OperandStack, env *NativeEnv) error {
	value, err := ops.PopDouble()
	if err != nil {
		return err
	}
	return ops.PushInt(int64(math.Round(value)))
}

// convertParseIntRadix parses a string in the given base. Success pushes a
// boxed-int reference, unparseable input pushes the none reference, and an
// unsupported base raises a RuntimeException.
func convertParseIntRadix(ops *OperandStack, env *NativeEnv) error {
	base, err := ops.PopInt()
	if err != nil {
		return err
	}
	str, err := popStringRef(ops, env)
	if err != nil {
		return err
	}
	if base < 2 || base > 36 {
		return Panic("Invalid base: %d.", base)
	}
	value, perr := strconv.ParseInt(str.Str(), int(base), 64)
	if perr != nil {
		return ops.PushReference(0)
	}
	return ops.PushReference(Ref(env.Heap.InsertInt(value)))
}

func boolByte(b bool) int8 {
	if b {
		return 1
	}
	return 0
}
