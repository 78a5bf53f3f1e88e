package vm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// FDTable: reversible dup2 redirections
// ---------------------------------------------------------------------------

type redirection struct {
	savedFD  int // duplicate of what target held before the redirection
	targetFD int // the descriptor external code observes
}

// FDTable is the stack of pending file descriptor redirections. Forked
// children inherit the current table; frames never auto-pop entries, the
// bytecode pairs SETUP_REDIRECT with POP_REDIRECT itself.
type FDTable struct {
	active []redirection
}

// PushRedirection saves the current target descriptor, then installs srcFD
// at targetFD.
func (t *FDTable) PushRedirection(srcFD, targetFD int) error {
	saved, err := unix.Dup(targetFD)
	if err != nil {
		return fmt.Errorf("dup %d: %w", targetFD, err)
	}
	if err := dup2(srcFD, targetFD); err != nil {
		unix.Close(saved)
		return fmt.Errorf("dup2 %d -> %d: %w", srcFD, targetFD, err)
	}
	t.active = append(t.active, redirection{savedFD: saved, targetFD: targetFD})
	return nil
}

// PopRedirection restores the most recent redirection and closes the saved
// descriptor.
func (t *FDTable) PopRedirection() {
	if len(t.active) == 0 {
		return
	}
	r := t.active[len(t.active)-1]
	t.active = t.active[:len(t.active)-1]
	dup2(r.savedFD, r.targetFD)
	unix.Close(r.savedFD)
}

// Depth returns the number of pending redirections.
func (t *FDTable) Depth() int {
	return len(t.active)
}

// dup2 installs oldFD at newFD. Implemented over dup3, which is available on
// every port this VM targets; dup3 rejects equal descriptors where dup2 is a
// no-op, so that case is short-circuited.
func dup2(oldFD, newFD int) error {
	if oldFD == newFD {
		return nil
	}
	return unix.Dup3(oldFD, newFD, 0)
}
