package vm

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Process spawning and descriptor plumbing
// ---------------------------------------------------------------------------

// commandNotRunnable is the exit status of a child whose EXEC target could
// not be executed.
const commandNotRunnable = 126

// SpawnObserver is notified of process-spawning opcodes. The parent reports
// forks; the child reports the argv it is about to exec.
type SpawnObserver interface {
	Forked(pid int)
	ExecStarted(argv []string)
}

// forkProcess forks the whole VM. It returns the child pid in the parent and
// zero in the child. The interpreter is single-threaded and the child either
// runs bytecode to completion or replaces itself through EXEC, which is what
// keeps a raw fork workable from a Go runtime.
func forkProcess() (int, error) {
	pid, _, errno := unix.Syscall(unix.SYS_FORK, 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("fork: %w", errno)
	}
	return int(pid), nil
}

// execProcess replaces the current process image, resolving the command
// through PATH like execvp. It only returns on failure.
func execProcess(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	return unix.Exec(path, argv, os.Environ())
}

// waitProcess waits for a child and returns its exit status byte.
func waitProcess(pid int) int8 {
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		fmt.Fprintf(os.Stderr, "waitpid: %v\n", err)
		return 0
	}
	return int8(status.ExitStatus())
}

// openFile opens a path with the flags carried in the bytecode.
func openFile(path string, flags int) (int, error) {
	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}

// readAll drains a descriptor to EOF, retrying on EAGAIN and EINTR.
func readAll(fd int) (string, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return "", fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return string(out), nil
		}
		out = append(out, buf[:n]...)
	}
}

// writeAll writes the whole string to a descriptor, then closes it.
func writeAll(fd int, data string) error {
	buf := []byte(data)
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			unix.Close(fd)
			return fmt.Errorf("write: %w", err)
		}
		buf = buf[n:]
	}
	return unix.Close(fd)
}
