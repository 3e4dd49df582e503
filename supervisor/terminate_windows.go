//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// treeTerminator has no process groups to signal, so it lets taskkill walk the process tree.
type treeTerminator struct{}

func newPlatformTerminator() Terminator {
	return treeTerminator{}
}

func (treeTerminator) Terminate(pid int) error {
	return taskkill(pid, false)
}

func (treeTerminator) Kill(pid int) error {
	return taskkill(pid, true)
}

func taskkill(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	output, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil {
		// taskkill exits with 128 when the process no longer exists.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return nil
		}
		return fmt.Errorf("taskkill %d failed: %v: %s", pid, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func processAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

func processGroupOf(pid int) int {
	return pid
}

func shellArgs(shell, command string) []string {
	switch strings.ToLower(strings.TrimSuffix(filepath.Base(shell), ".exe")) {
	case "powershell", "pwsh":
		return []string{shell, "-NoProfile", "-Command", command}
	case "cmd":
		return []string{shell, "/C", command}
	default:
		return []string{shell, "-c", command}
	}
}
