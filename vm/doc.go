// Package vm implements the moshell bytecode virtual machine.
//
// A VM executes a loaded bytecode unit: a constant pool of interned strings
// and function signatures, plus function definitions made of byte-addressed
// stack-machine instructions. Execution is single-threaded and
// non-suspending; OS-level concurrency arises only from the FORK, EXEC and
// WAIT opcodes.
//
// Memory is split into four spaces. The call stack carves one contiguous
// byte tape into frames, each holding a locals window and an operand stack
// window. The object heap owns composite values (boxed primitives, strings,
// vectors) referenced by address and reclaimed by a mark-and-sweep collector
// that scans frame windows conservatively. The strings heap deduplicates
// runtime-produced strings. The FD table tracks reversible dup2
// redirections for shell-style I/O plumbing.
//
// Host functionality is exposed through a registry of native functions keyed
// by qualified name. A native pops its arguments from the caller's operand
// stack and pushes its result back; it sees the heap and strings spaces but
// never the call stack or the FD table.
package vm
