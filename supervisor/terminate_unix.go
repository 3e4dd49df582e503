//go:build !windows

package supervisor

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// groupTerminator signals the whole process group by passing the negated pid, so children
// of the shell are reaped along with it.
type groupTerminator struct{}

func newPlatformTerminator() Terminator {
	return groupTerminator{}
}

func (groupTerminator) Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

func (groupTerminator) Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			// The group is already gone.
			return nil
		}
		return fmt.Errorf("error sending %v to process group %d: %w", sig, pid, err)
	}
	return nil
}

// processAttrs puts the child in its own process group.
func processAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// processGroupOf returns the process group id of pid, falling back to pid itself.
func processGroupOf(pid int) int {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}

func shellArgs(shell, command string) []string {
	return []string{shell, "-c", command}
}
