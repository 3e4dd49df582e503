package supervisor

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/creack/pty"

	"squadstream/events"
	"squadstream/log"
)

const (
	defaultCols = 80
	defaultRows = 24
	// maxSize is the largest terminal dimension a window size can carry.
	maxSize = math.MaxUint16
	// readBufferSize is large so escape sequences are rarely split across reads.
	readBufferSize = 32 * 1024
)

// ErrInvalidSize is returned for terminal sizes outside 1..65535.
var ErrInvalidSize = errors.New("invalid terminal size")

// ValidateSize reports whether cols and rows fit a terminal window size.
func ValidateSize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > maxSize || rows > maxSize {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}
	return nil
}

// PersistentOptions configures RunPersistent.
type PersistentOptions struct {
	RunOptions
	Cols, Rows int
}

// RunPersistent starts a long running process on a pseudo terminal under key. Commands are
// chained with &&; with no commands an interactive shell is started. Any live process of
// key is terminated first.
//
// Output is appended to the key's buffer and published as TerminalData; the exit is
// published as TerminalExit.
func (s *Supervisor) RunPersistent(commands []string, workDir, key string, opts PersistentOptions) (*Handle, error) {
	unlock := s.lockIdleKey(key)
	defer unlock()

	s.replace(key)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	if err := ValidateSize(cols, rows); err != nil {
		return nil, err
	}

	shell := s.shell(opts.RunOptions)
	env := s.environment()
	commandLine := strings.Join(commands, " && ")
	cmd := s.command(shell, commandLine, workDir, env)
	if len(commands) == 0 {
		commandLine = shell
		cmd.Args = []string{shell}
	}

	// pty.StartWithSize puts the child in a new session, so it leads its own process group.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, &SpawnError{Key: key, Command: commandLine, Err: err}
	}

	h := &Handle{
		Key:       key,
		PID:       cmd.Process.Pid,
		PGID:      processGroupOf(cmd.Process.Pid),
		Env:       env,
		Cols:      cols,
		Rows:      rows,
		Command:   commandLine,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
	}
	s.register(h)
	log.InfoLog.Printf("started terminal process %d for %s: %s", h.PID, key, commandLine)

	readDone := make(chan struct{})
	go s.readTerminal(h, readDone)
	go s.waitTerminal(h, readDone)
	return h, nil
}

func (s *Supervisor) readTerminal(h *Handle, readDone chan<- struct{}) {
	defer close(readDone)

	var c chunker
	buf := make([]byte, readBufferSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			if data := c.feed(buf[:n]); data != "" {
				s.publishTerminal(h.Key, data)
			}
		}
		if err != nil {
			// EIO is how Linux reports that the terminal's last writer went away.
			if err != io.EOF && !h.Killed() {
				log.InfoLog.Printf("terminal read for %s ended: %v", h.Key, err)
			}
			break
		}
	}
	if rest := c.flush(); rest != "" {
		s.publishTerminal(h.Key, rest)
	}
}

func (s *Supervisor) publishTerminal(key, data string) {
	s.buffers.Append(key, data)
	s.hub.Emit(events.TerminalData{TerminalKey: key, Data: data})
}

func (s *Supervisor) waitTerminal(h *Handle, readDone <-chan struct{}) {
	err := h.cmd.Wait()
	h.exitCode = exitCodeOf(h.cmd, err)

	// Let the reader drain what the process wrote before exiting. A descendant that kept
	// the terminal open would block it forever, so closing the terminal ends the wait.
	select {
	case <-readDone:
	case <-time.After(200 * time.Millisecond):
	}
	if err := h.ptmx.Close(); err != nil {
		log.WarningLog.Printf("error closing terminal of %s: %v", h.Key, err)
	}
	<-readDone

	s.unregister(h)
	log.InfoLog.Printf("terminal process %d for %s exited with %d", h.PID, h.Key, h.exitCode)
	s.hub.Emit(events.TerminalExit{TerminalKey: h.Key, ExitCode: h.exitCode})
	close(h.done)
}

// Write sends input to the terminal of key.
func (s *Supervisor) Write(key string, data []byte) error {
	h, ok := s.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProcess, key)
	}
	if h.ptmx == nil {
		return fmt.Errorf("%w: %s", ErrNotTerminal, key)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.ptmx.Write(data); err != nil {
		return fmt.Errorf("error writing to terminal of %s: %w", key, err)
	}
	return nil
}

// Resize changes the window size of the terminal of key.
func (s *Supervisor) Resize(key string, cols, rows int) error {
	if err := ValidateSize(cols, rows); err != nil {
		return err
	}
	h, ok := s.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProcess, key)
	}
	if h.ptmx == nil {
		return fmt.Errorf("%w: %s", ErrNotTerminal, key)
	}
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("error resizing terminal of %s: %w", key, err)
	}
	h.writeMu.Lock()
	h.Cols, h.Rows = cols, rows
	h.writeMu.Unlock()
	return nil
}
