package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
)

// waitDelay bounds how long Wait keeps copying output after the shell exited, in case a
// descendant holds the pipes open.
const waitDelay = 500 * time.Millisecond

// Result is the outcome of a sequential run.
type Result struct {
	Success bool
	// ExitCode is the exit code of the last command that ran.
	ExitCode int
	Err      error
}

// WaitResult is the outcome of RunAndWait.
type WaitResult struct {
	Success bool
	Output  string
	Err     error
}

// scriptWriter publishes one stream (stdout or stderr) of a command. Both streams of a
// command share mu, so the buffer and the published events see chunks in the same order.
type scriptWriter struct {
	s   *Supervisor
	key string
	typ events.ScriptOutputType
	mu  *sync.Mutex
	c   chunker
}

func (w *scriptWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if data := w.c.feed(p); data != "" {
		w.s.publishScript(w.key, w.typ, data)
	}
	return len(p), nil
}

func (w *scriptWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rest := w.c.flush(); rest != "" {
		w.s.publishScript(w.key, w.typ, rest)
	}
}

// RunSequential runs commands one after another under key and stops at the first command
// that fails. Before each command a command-start marker is written to the buffer and
// published; the run always ends with a done event carrying the last exit code.
//
// Killing the key, starting another process under it, or cancelling ctx stops the run.
func (s *Supervisor) RunSequential(ctx context.Context, commands []string, workDir, key string, opts RunOptions) Result {
	run := newRunState()
	if len(commands) == 0 {
		return s.finishRun(key, run, Result{ExitCode: -1, Err: ErrNoCommands})
	}
	s.claim(key, run)

	shell := s.shell(opts)
	exitCode := 0
	for _, commandLine := range commands {
		if run.killed.Load() {
			return s.finishRun(key, run, Result{ExitCode: exitCode, Err: ErrKilled})
		}
		if err := ctx.Err(); err != nil {
			return s.finishRun(key, run, Result{ExitCode: exitCode, Err: err})
		}

		h, err := s.startScript(ctx, run, shell, commandLine, workDir, key)
		if errors.Is(err, ErrKilled) {
			return s.finishRun(key, run, Result{ExitCode: exitCode, Err: err})
		}
		if err != nil {
			s.publishScript(key, events.ScriptError, err.Error()+"\n")
			return s.finishRun(key, run, Result{ExitCode: -1, Err: err})
		}
		<-h.done
		exitCode = h.exitCode

		switch {
		case ctx.Err() != nil:
			return s.finishRun(key, run, Result{ExitCode: exitCode, Err: ctx.Err()})
		case run.killed.Load():
			return s.finishRun(key, run, Result{ExitCode: exitCode, Err: ErrKilled})
		case exitCode != 0:
			return s.finishRun(key, run, Result{
				ExitCode: exitCode,
				Err:      fmt.Errorf("command %q exited with code %d", commandLine, exitCode),
			})
		}
	}
	return s.finishRun(key, run, Result{Success: true, ExitCode: exitCode})
}

// startScript spawns one command of a run, replacing whatever runs under key.
func (s *Supervisor) startScript(ctx context.Context, run *runState, shell, commandLine, workDir, key string) (*Handle, error) {
	unlock := s.lockKey(key)
	defer unlock()

	s.replace(key)
	if run.killed.Load() {
		return nil, ErrKilled
	}

	s.buffers.AppendEntry(key, output.Entry{Kind: output.EntryCommandStart, Command: commandLine})
	s.hub.Emit(events.ScriptOutput{ProducerKey: key, Type: events.ScriptCommandStart, Command: commandLine})

	env := s.environment()
	cmd := s.command(shell, commandLine, workDir, env)
	cmd.SysProcAttr = processAttrs()
	cmd.WaitDelay = waitDelay

	mu := &sync.Mutex{}
	stdout := &scriptWriter{s: s, key: key, typ: events.ScriptOutputData, mu: mu}
	stderr := &scriptWriter{s: s, key: key, typ: events.ScriptError, mu: mu}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// A kill may arrive while the command-start event is delivered.
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.killed.Load() {
		return nil, ErrKilled
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Key: key, Command: commandLine, Err: err}
	}

	h := &Handle{
		Key:       key,
		PID:       cmd.Process.Pid,
		PGID:      processGroupOf(cmd.Process.Pid),
		Env:       env,
		Command:   commandLine,
		StartedAt: time.Now(),
		cmd:       cmd,
		run:       run,
		done:      make(chan struct{}),
	}
	s.register(h)
	run.current = h
	log.InfoLog.Printf("started process %d for %s: %s", h.PID, key, commandLine)

	stopWatch := context.AfterFunc(ctx, func() {
		s.terminate(h)
	})
	go func() {
		err := cmd.Wait()
		stopWatch()
		stdout.flush()
		stderr.flush()
		h.exitCode = exitCodeOf(cmd, err)
		s.unregister(h)
		log.InfoLog.Printf("process %d for %s exited with %d", h.PID, key, h.exitCode)
		close(h.done)
	}()
	return h, nil
}

// finishRun publishes the done event of a run and returns res.
func (s *Supervisor) finishRun(key string, run *runState, res Result) Result {
	code := res.ExitCode
	s.hub.Emit(events.ScriptOutput{ProducerKey: key, Type: events.ScriptDone, ExitCode: &code})
	s.release(key, run)
	close(run.finished)
	if res.Err != nil {
		log.InfoLog.Printf("run for %s stopped: %v", key, res.Err)
	}
	return res
}

// RunAndWait runs commands one after another and returns their combined output. Nothing
// is buffered or published; it is meant for callers that just need the result.
func (s *Supervisor) RunAndWait(ctx context.Context, commands []string, workDir string, opts RunOptions) WaitResult {
	if len(commands) == 0 {
		return WaitResult{Err: ErrNoCommands}
	}

	shell := s.shell(opts)
	var out bytes.Buffer
	for _, commandLine := range commands {
		cmd := s.command(shell, commandLine, workDir, s.environment())
		cmd.SysProcAttr = processAttrs()
		cmd.WaitDelay = waitDelay
		cmd.Stdout = &out
		cmd.Stderr = &out

		if err := cmd.Start(); err != nil {
			return WaitResult{Output: out.String(), Err: &SpawnError{Command: commandLine, Err: err}}
		}
		stopWatch := context.AfterFunc(ctx, func() {
			if err := s.opts.Terminator.Kill(cmd.Process.Pid); err != nil {
				log.WarningLog.Printf("could not kill %q: %v", commandLine, err)
			}
		})
		err := cmd.Wait()
		stopWatch()

		if ctx.Err() != nil {
			return WaitResult{Output: out.String(), Err: ctx.Err()}
		}
		if code := exitCodeOf(cmd, err); code != 0 {
			return WaitResult{
				Output: out.String(),
				Err:    fmt.Errorf("command %q exited with code %d", commandLine, code),
			}
		}
	}
	return WaitResult{Success: true, Output: out.String()}
}
