package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is the live process of one producer key.
type Handle struct {
	Key  string
	PID  int
	PGID int
	// Env is the environment the process was spawned with.
	Env []string
	// Cols and Rows are set for terminal processes.
	Cols, Rows int
	// Command is the command line the process runs.
	Command   string
	StartedAt time.Time

	cmd *exec.Cmd
	// ptmx is the terminal of persistent processes, nil otherwise.
	ptmx    *os.File
	writeMu sync.Mutex

	// run is shared by the handles of one sequential run.
	run *runState

	killed   atomic.Bool
	done     chan struct{}
	exitCode int
}

// runState is shared by every command of a run, so killing the current command also stops
// the commands after it. A run is registered under its key from its first command until its
// done event, including the gaps between commands.
type runState struct {
	// mu orders a kill against the start of the next command: either the kill sees the new
	// handle in current, or the start sees killed.
	mu      sync.Mutex
	killed  atomic.Bool
	current *Handle
	// finished is closed once the run published its done event.
	finished chan struct{}
}

func newRunState() *runState {
	return &runState{finished: make(chan struct{})}
}

func (h *Handle) markKilled() {
	h.killed.Store(true)
	if h.run != nil {
		h.run.killed.Store(true)
	}
}

// Done is closed once the process exited and its exit event was published.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit code. Only valid after Done is closed; -1 when the process was
// ended by a signal.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// Terminal reports whether the process runs on a pseudo terminal.
func (h *Handle) Terminal() bool {
	return h.ptmx != nil
}

// Killed reports whether the process was terminated by the supervisor.
func (h *Handle) Killed() bool {
	return h.killed.Load()
}

// exitCodeOf extracts the exit code of a finished command.
func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}
