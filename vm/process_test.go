package vm

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/modernsh/moshell/pkg/bytecode"
)

// Writes a string to a file through OPEN/WRITE, reads it back through
// OPEN/READ. READ strips the trailing newline.
func TestOpenWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	b := bytecode.NewUnitBuilder()
	f := mainFn(b, 0)
	f.EmitString(path)
	f.EmitU32(bytecode.OpOpen, uint32(unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC))
	f.EmitString("hello\n")
	f.Emit(bytecode.OpWrite) // writes and closes the fd
	f.EmitString(path)
	f.EmitU32(bytecode.OpOpen, uint32(unix.O_RDONLY))
	f.Emit(bytecode.OpRead)
	f.EmitInvoke("test::probe_str")
	f.Emit(bytecode.OpReturn)

	p := run(t, b)
	if p.strings[0] != "hello" {
		t.Errorf("read back %q, want \"hello\"", p.strings[0])
	}
}

// Spec scenario 5: pipe, redirect stdout into its write end, fork, exec
// `echo hi` in the child, wait, read the pipe in the parent.
func TestPipelineRedirectionScenario(t *testing.T) {
	b := bytecode.NewUnitBuilder()
	f := mainFn(b, 16)
	// locals: 0 = read fd, 8 = write fd
	f.Emit(bytecode.OpPipe)
	f.EmitU32(bytecode.OpSetQWord, 8)
	f.EmitU32(bytecode.OpSetQWord, 0)

	f.EmitU32(bytecode.OpGetQWord, 8)
	f.EmitInt(1) // stdout
	f.Emit(bytecode.OpSetupRedirect)
	f.Emit(bytecode.OpPopQWord) // discard the src fd left on the stack

	fork := f.EmitJump(bytecode.OpFork)
	// child: replace the image with `echo hi`
	f.EmitString("echo")
	f.EmitString("hi")
	f.EmitU8(bytecode.OpExec, 2)

	// parent
	f.PatchJump(fork)
	f.Emit(bytecode.OpWait)
	f.Emit(bytecode.OpPopByte) // discard the exit status

	f.Emit(bytecode.OpPopRedirect) // restore stdout
	f.EmitU32(bytecode.OpGetQWord, 8)
	f.Emit(bytecode.OpClose) // drop the parent's write end so READ sees EOF
	f.EmitU32(bytecode.OpGetQWord, 0)
	f.Emit(bytecode.OpRead)
	f.EmitInvoke("test::probe_str")
	f.EmitU32(bytecode.OpGetQWord, 0)
	f.Emit(bytecode.OpClose)
	f.Emit(bytecode.OpReturn)

	p := run(t, b)
	if p.strings[0] != "hi" {
		t.Errorf("read %q from pipe, want \"hi\"", p.strings[0])
	}
}

// WAIT pushes the child's exit status byte.
func TestForkExecWaitStatus(t *testing.T) {
	b := bytecode.NewUnitBuilder()
	f := mainFn(b, 0)
	fork := f.EmitJump(bytecode.OpFork)
	f.EmitString("false")
	f.EmitU8(bytecode.OpExec, 1)
	f.PatchJump(fork)
	f.Emit(bytecode.OpWait)
	f.EmitInvoke("test::probe_byte")
	f.Emit(bytecode.OpReturn)

	p := run(t, b)
	if p.bytes[0] != 1 {
		t.Errorf("exit status of `false` = %d, want 1", p.bytes[0])
	}
}
