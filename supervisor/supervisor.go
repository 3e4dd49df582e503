// Package supervisor owns the lifecycle of the child processes that produce output: at
// most one live process per producer key, output captured into that key's buffer and
// published on the event hub as it arrives.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
)

var (
	// ErrNoCommands is returned when a run is started without commands.
	ErrNoCommands = errors.New("no commands to run")
	// ErrKilled is reported by a sequential run that was killed or replaced.
	ErrKilled = errors.New("process was killed")
	// ErrNoProcess is returned when no live process exists for a key.
	ErrNoProcess = errors.New("no live process for key")
	// ErrNotTerminal is returned for terminal operations on a non terminal process.
	ErrNotTerminal = errors.New("process is not attached to a terminal")
)

// SpawnError reports that a process could not be started.
type SpawnError struct {
	Key     string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("error starting %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("error starting %q for %s: %v", e.Command, e.Key, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Options configures a Supervisor.
type Options struct {
	// Shell runs the commands. Empty means $SHELL, falling back to /bin/sh.
	Shell string
	// ExtraPath is prepended to PATH of every spawned process.
	ExtraPath []string
	// KillGracePeriod is how long a process tree gets to exit after the polite terminate
	// before it is killed.
	KillGracePeriod time.Duration
	// Terminator ends process trees. Defaults to DefaultTerminator().
	Terminator Terminator
	// Environ returns the environment to spawn with. It is called at every spawn so that
	// changes to the ambient environment are picked up. Defaults to os.Environ.
	Environ func() []string
}

// RunOptions are per call overrides.
type RunOptions struct {
	// Shell overrides the supervisor's shell for this call.
	Shell string
}

// Supervisor spawns and kills processes per producer key.
type Supervisor struct {
	opts    Options
	buffers *output.Registry
	hub     *events.Hub

	mu      sync.Mutex
	handles map[string]*Handle
	// runs holds the sequential run owning each key, for the whole run.
	runs map[string]*runState
	// keyLocks serialize spawns under the same key so a replacement always terminates the
	// previous process before creating the next one.
	keyLocks map[string]*sync.Mutex
}

func New(buffers *output.Registry, hub *events.Hub, opts Options) *Supervisor {
	if opts.Terminator == nil {
		opts.Terminator = DefaultTerminator()
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.KillGracePeriod <= 0 {
		opts.KillGracePeriod = 2 * time.Second
	}
	return &Supervisor{
		opts:     opts,
		buffers:  buffers,
		hub:      hub,
		handles:  make(map[string]*Handle),
		runs:     make(map[string]*runState),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Supervisor) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Supervisor) shell(opts RunOptions) string {
	if opts.Shell != "" {
		return opts.Shell
	}
	if s.opts.Shell != "" {
		return s.opts.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// environment builds a fresh environment for a spawn.
func (s *Supervisor) environment() []string {
	env := append([]string(nil), s.opts.Environ()...)
	if len(s.opts.ExtraPath) == 0 {
		return env
	}

	extra := strings.Join(s.opts.ExtraPath, string(os.PathListSeparator))
	for i, kv := range env {
		if name, value, ok := strings.Cut(kv, "="); ok && strings.EqualFold(name, "PATH") {
			if value != "" {
				extra += string(os.PathListSeparator) + value
			}
			env[i] = name + "=" + extra
			return env
		}
	}
	return append(env, "PATH="+extra)
}

// command builds the exec.Cmd for one shell command line.
func (s *Supervisor) command(shell, commandLine, workDir string, env []string) *exec.Cmd {
	args := shellArgs(shell, commandLine)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	return cmd
}

// register installs h as the live handle of its key.
func (s *Supervisor) register(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.Key] = h
}

// unregister removes h if it is still the live handle of its key.
func (s *Supervisor) unregister(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.Key] == h {
		delete(s.handles, h.Key)
	}
}

// replace terminates the live process of key, if any. Callers hold the key lock.
func (s *Supervisor) replace(key string) {
	h, ok := s.Lookup(key)
	if !ok {
		return
	}
	log.InfoLog.Printf("replacing process %d for %s", h.PID, key)
	s.terminate(h)
}

// claim registers run as the owner of key. A run already owning key is stopped first and
// claim returns once it published its done event.
func (s *Supervisor) claim(key string, run *runState) {
	for {
		s.mu.Lock()
		prev := s.runs[key]
		if prev == nil {
			s.runs[key] = run
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		log.InfoLog.Printf("replacing run for %s", key)
		s.stopRun(prev)
		<-prev.finished
	}
}

// release drops run as the owner of key.
func (s *Supervisor) release(key string, run *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[key] == run {
		delete(s.runs, key)
	}
}

func (s *Supervisor) runOf(key string) *runState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[key]
}

// lockIdleKey takes the key lock once no sequential run owns key, stopping runs that do.
func (s *Supervisor) lockIdleKey(key string) func() {
	for {
		if run := s.runOf(key); run != nil {
			s.stopRun(run)
			<-run.finished
			continue
		}
		unlock := s.lockKey(key)
		if s.runOf(key) == nil {
			return unlock
		}
		unlock()
	}
}

// stopRun marks run killed and terminates its current command. It does not wait for the
// run to publish its done event, so it is safe to call from a listener of that run's
// events. It reports whether run was not killed before.
func (s *Supervisor) stopRun(run *runState) bool {
	run.mu.Lock()
	first := !run.killed.Swap(true)
	h := run.current
	run.mu.Unlock()

	if h != nil {
		s.terminate(h)
	}
	return first
}

// Lookup returns the live handle of key.
func (s *Supervisor) Lookup(key string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[key]
	return h, ok
}

// Handles returns the live handles ordered by key.
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].Key < handles[j].Key })
	return handles
}

// KillProcess terminates the process tree of key and returns once its exit was observed.
// A sequential run is stopped even between two of its commands. It returns false when no
// live process or run existed, which is not an error.
func (s *Supervisor) KillProcess(key string) bool {
	if run := s.runOf(key); run != nil {
		return s.stopRun(run)
	}
	h, ok := s.Lookup(key)
	if !ok {
		return false
	}
	return s.terminate(h)
}

// KillAll stops every sequential run, terminates every live process and waits for all of
// them to exit.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	runs := make([]*runState, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(run *runState) {
			defer wg.Done()
			s.stopRun(run)
			<-run.finished
		}(run)
	}
	for _, h := range s.Handles() {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			s.terminate(h)
		}(h)
	}
	wg.Wait()
}

// terminate ends h's process tree: a polite terminate, then a kill once the grace period
// passed. It blocks until the exit was observed and reports whether h was still running.
func (s *Supervisor) terminate(h *Handle) bool {
	h.markKilled()
	select {
	case <-h.done:
		return false
	default:
	}

	if err := s.opts.Terminator.Terminate(h.PID); err != nil {
		log.WarningLog.Printf("could not terminate %s (pid %d): %v", h.Key, h.PID, err)
	}
	select {
	case <-h.done:
		return true
	case <-time.After(s.opts.KillGracePeriod):
	}

	if err := s.opts.Terminator.Kill(h.PID); err != nil {
		log.ErrorLog.Printf("could not kill %s (pid %d): %v", h.Key, h.PID, err)
	}
	<-h.done
	return true
}

// publishScript appends to the key's buffer, then publishes, so a consumer reacting to the
// event always finds the data in the buffer.
func (s *Supervisor) publishScript(key string, typ events.ScriptOutputType, data string) {
	s.buffers.Append(key, data)
	s.hub.Emit(events.ScriptOutput{ProducerKey: key, Type: typ, Data: data})
}
