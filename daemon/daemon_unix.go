//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

// getSysProcAttr returns platform-specific process attributes for detaching the child process
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true, // Create a new session
	}
}

// stopProcess asks the daemon to stop, so it kills its own process trees on the way out.
func stopProcess(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
