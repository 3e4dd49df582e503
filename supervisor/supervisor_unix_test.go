//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"squadstream/events"
	"squadstream/output"
)

// recorder collects every event published on the hub.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(hub *events.Hub) *recorder {
	r := &recorder{}
	for _, ch := range events.Channels {
		hub.On(ch, func(e events.Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) scriptTypes(key string) []events.ScriptOutputType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []events.ScriptOutputType
	for _, e := range r.events {
		if p, ok := e.Payload.(events.ScriptOutput); ok && e.Key == key {
			types = append(types, p.Type)
		}
	}
	return types
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newTestSupervisor(t *testing.T, opts Options) (*Supervisor, *output.Registry, *recorder) {
	t.Helper()
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.KillGracePeriod == 0 {
		opts.KillGracePeriod = 500 * time.Millisecond
	}
	buffers := output.NewRegistry(0, 0)
	hub := events.NewHub()
	rec := record(hub)
	s := New(buffers, hub, opts)
	t.Cleanup(s.KillAll)
	return s, buffers, rec
}

func waitForHandle(t *testing.T, s *Supervisor, key string) *Handle {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h, ok := s.Lookup(key); ok {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no live process for %s", key)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunSequentialStopsAtFirstFailure(t *testing.T) {
	s, buffers, rec := newTestSupervisor(t, Options{})

	res := s.RunSequential(context.Background(), []string{"echo one", "exit 3", "echo never"}, "", "run:alpha", RunOptions{})
	if res.Success || res.ExitCode != 3 || res.Err == nil {
		t.Fatalf("result = %+v, want failure with exit code 3", res)
	}

	buf := buffers.Get("run:alpha")
	if got := buf.String(); got != "one\n" {
		t.Errorf("buffer data = %q, want %q", got, "one\n")
	}
	var commands []string
	for _, e := range buf.ToArray() {
		if e.Kind == output.EntryCommandStart {
			commands = append(commands, e.Command)
		}
	}
	if strings.Join(commands, ",") != "echo one,exit 3" {
		t.Errorf("command markers = %v", commands)
	}

	want := []events.ScriptOutputType{
		events.ScriptCommandStart, events.ScriptOutputData, events.ScriptCommandStart, events.ScriptDone,
	}
	if got := rec.scriptTypes("run:alpha"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("event types = %v, want %v", got, want)
	}
	last := rec.snapshot()
	done := last[len(last)-1].Payload.(events.ScriptOutput)
	if done.ExitCode == nil || *done.ExitCode != 3 {
		t.Errorf("done exit code = %v, want 3", done.ExitCode)
	}
}

func TestRunSequentialSuccess(t *testing.T) {
	s, buffers, _ := newTestSupervisor(t, Options{})

	res := s.RunSequential(context.Background(), []string{"echo a", "echo b >&2"}, "", "run:ok", RunOptions{})
	if !res.Success || res.ExitCode != 0 || res.Err != nil {
		t.Fatalf("result = %+v, want success", res)
	}
	if got := buffers.Get("run:ok").String(); got != "a\nb\n" {
		t.Errorf("buffer = %q, want stdout and stderr in order", got)
	}
	if _, ok := s.Lookup("run:ok"); ok {
		t.Error("finished run still has a live handle")
	}
}

func TestRunSequentialWithoutCommands(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})

	res := s.RunSequential(context.Background(), nil, "", "run:empty", RunOptions{})
	if !errors.Is(res.Err, ErrNoCommands) {
		t.Fatalf("Err = %v, want ErrNoCommands", res.Err)
	}
	if got := rec.scriptTypes("run:empty"); len(got) != 1 || got[0] != events.ScriptDone {
		t.Errorf("events = %v, want a single done", got)
	}
}

func TestRunSequentialSpawnError(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})

	res := s.RunSequential(context.Background(), []string{"echo hi"}, "/does/not/exist", "run:bad", RunOptions{})
	var spawnErr *SpawnError
	if !errors.As(res.Err, &spawnErr) {
		t.Fatalf("Err = %v, want *SpawnError", res.Err)
	}
	if spawnErr.Key != "run:bad" || spawnErr.Command != "echo hi" {
		t.Errorf("SpawnError = %+v", spawnErr)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	want := []events.ScriptOutputType{events.ScriptCommandStart, events.ScriptError, events.ScriptDone}
	if got := rec.scriptTypes("run:bad"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("event types = %v, want %v", got, want)
	}
}

func TestRunSequentialContextCancel(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := s.RunSequential(ctx, []string{"sleep 100", "echo never"}, "", "run:ctx", RunOptions{})
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("Err = %v, want deadline exceeded", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

func TestKillProcess(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})

	results := make(chan Result, 1)
	go func() {
		results <- s.RunSequential(context.Background(), []string{"sleep 100", "echo never"}, "", "run:kill", RunOptions{})
	}()
	h := waitForHandle(t, s, "run:kill")

	if !s.KillProcess("run:kill") {
		t.Fatal("KillProcess returned false for a live process")
	}
	// KillProcess resolves only after the exit was observed.
	select {
	case <-h.Done():
	default:
		t.Fatal("KillProcess returned before the process exited")
	}
	if !h.Killed() {
		t.Error("handle not marked killed")
	}
	if s.KillProcess("run:kill") {
		t.Error("second KillProcess returned true")
	}

	res := <-results
	if !errors.Is(res.Err, ErrKilled) {
		t.Errorf("Err = %v, want ErrKilled", res.Err)
	}
	for _, typ := range rec.scriptTypes("run:kill") {
		if typ == events.ScriptOutputData {
			t.Error("command after the killed one ran")
		}
	}
}

func TestKillProcessBetweenCommands(t *testing.T) {
	s, buffers, _ := newTestSupervisor(t, Options{})

	// Listeners run on the goroutine of the run, so the kill lands after the first command
	// exited and before the second one is spawned.
	var killed atomic.Bool
	s.hub.On(events.ChannelScriptOutput, func(e events.Event) {
		p := e.Payload.(events.ScriptOutput)
		if p.Type == events.ScriptCommandStart && p.Command == "echo second" {
			killed.Store(s.KillProcess("run:gap"))
		}
	})

	start := time.Now()
	res := s.RunSequential(context.Background(), []string{"true", "echo second", "sleep 1"}, "", "run:gap", RunOptions{})
	if !killed.Load() {
		t.Error("KillProcess returned false between two commands")
	}
	if !errors.Is(res.Err, ErrKilled) {
		t.Errorf("Err = %v, want ErrKilled", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("run took %v, the commands after the kill ran", elapsed)
	}
	if strings.Contains(buffers.Get("run:gap").String(), "second\n") {
		t.Error("the command started after the kill produced output")
	}
	if s.KillProcess("run:gap") {
		t.Error("KillProcess of a finished run returned true")
	}
}

func TestKillProcessDuringManyShortCommands(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	commands := make([]string, 0, 41)
	for i := 0; i < 40; i++ {
		commands = append(commands, "true")
	}
	commands = append(commands, "sleep 5")

	results := make(chan Result, 1)
	go func() {
		results <- s.RunSequential(context.Background(), commands, "", "run:short", RunOptions{})
	}()
	time.Sleep(20 * time.Millisecond)
	if !s.KillProcess("run:short") {
		t.Fatal("KillProcess returned false for a running run")
	}

	select {
	case res := <-results:
		if !errors.Is(res.Err, ErrKilled) {
			t.Errorf("Err = %v, want ErrKilled", res.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run kept going after KillProcess")
	}
}

func TestRespawnBetweenCommandsReplacesRun(t *testing.T) {
	s, buffers, _ := newTestSupervisor(t, Options{})

	first := make(chan Result, 1)
	second := make(chan Result, 1)
	var once sync.Once
	s.hub.On(events.ChannelScriptOutput, func(e events.Event) {
		p := e.Payload.(events.ScriptOutput)
		if p.Type == events.ScriptCommandStart && p.Command == "echo old" {
			once.Do(func() {
				go func() {
					second <- s.RunSequential(context.Background(), []string{"echo new"}, "", "run:swap", RunOptions{})
				}()
				// Give the second run time to claim the key before the old command spawns.
				time.Sleep(100 * time.Millisecond)
			})
		}
	})
	go func() {
		first <- s.RunSequential(context.Background(), []string{"true", "echo old", "sleep 5"}, "", "run:swap", RunOptions{})
	}()

	select {
	case res := <-first:
		if !errors.Is(res.Err, ErrKilled) {
			t.Errorf("first run Err = %v, want ErrKilled", res.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("the replaced run kept going")
	}
	if res := <-second; !res.Success {
		t.Errorf("second run = %+v", res)
	}
	out := buffers.Get("run:swap").String()
	if !strings.Contains(out, "new") || strings.Contains(out, "old\n") {
		t.Errorf("output = %q, want only the second run", out)
	}
}

func TestKillProcessUnknownKey(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})
	if s.KillProcess("run:none") {
		t.Error("KillProcess returned true for an unknown key")
	}
}

type fakeTerminator struct {
	mu         sync.Mutex
	terminated []int
	killed     []int
}

// Terminate is ignored, as by a process that traps SIGTERM.
func (f *fakeTerminator) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeTerminator) Kill(pid int) error {
	f.mu.Lock()
	f.killed = append(f.killed, pid)
	f.mu.Unlock()
	return signalGroup(pid, syscall.SIGKILL)
}

func TestKillEscalatesAfterGracePeriod(t *testing.T) {
	term := &fakeTerminator{}
	s, _, _ := newTestSupervisor(t, Options{Terminator: term, KillGracePeriod: 50 * time.Millisecond})

	go s.RunSequential(context.Background(), []string{"sleep 100"}, "", "run:stubborn", RunOptions{})
	h := waitForHandle(t, s, "run:stubborn")

	s.KillProcess("run:stubborn")

	term.mu.Lock()
	defer term.mu.Unlock()
	if len(term.terminated) != 1 || term.terminated[0] != h.PID {
		t.Errorf("terminated = %v, want [%d]", term.terminated, h.PID)
	}
	if len(term.killed) != 1 || term.killed[0] != h.PID {
		t.Errorf("killed = %v, want [%d]", term.killed, h.PID)
	}
}

func TestKillAll(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	for _, key := range []string{"run:a", "run:b"} {
		go s.RunSequential(context.Background(), []string{"sleep 100"}, "", key, RunOptions{})
		waitForHandle(t, s, key)
	}
	s.KillAll()
	if got := s.Handles(); len(got) != 0 {
		t.Errorf("%d handles left after KillAll", len(got))
	}
}

func TestRespawnTerminatesPreviousRunFirst(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})

	first := make(chan Result, 1)
	go func() {
		first <- s.RunSequential(context.Background(), []string{"sleep 100"}, "", "run:alpha", RunOptions{})
	}()
	waitForHandle(t, s, "run:alpha")

	second := s.RunSequential(context.Background(), []string{"echo second"}, "", "run:alpha", RunOptions{})
	if !second.Success {
		t.Fatalf("second run = %+v", second)
	}
	if res := <-first; !errors.Is(res.Err, ErrKilled) {
		t.Errorf("first run Err = %v, want ErrKilled", res.Err)
	}

	want := []events.ScriptOutputType{
		events.ScriptCommandStart, events.ScriptDone, // first run
		events.ScriptCommandStart, events.ScriptOutputData, events.ScriptDone, // second run
	}
	if got := rec.scriptTypes("run:alpha"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("event types = %v, want %v", got, want)
	}
}

func TestRespawnPersistentKeepsOneHandle(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	first, err := s.RunPersistent([]string{"sleep 100"}, "", "term:1", PersistentOptions{})
	if err != nil {
		t.Fatalf("RunPersistent: %v", err)
	}
	second, err := s.RunPersistent([]string{"sleep 100"}, "", "term:1", PersistentOptions{})
	if err != nil {
		t.Fatalf("RunPersistent: %v", err)
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("first process still running after the second started")
	}
	handles := s.Handles()
	if len(handles) != 1 || handles[0] != second {
		t.Errorf("handles = %v, want only the second process", handles)
	}
}

func TestEnvironmentIsReadAtEverySpawn(t *testing.T) {
	var generation atomic.Int32
	s, buffers, _ := newTestSupervisor(t, Options{
		ExtraPath: []string{"/opt/tools"},
		Environ: func() []string {
			return []string{"PATH=/usr/bin:/bin", fmt.Sprintf("GEN=%d", generation.Add(1))}
		},
	})

	for _, key := range []string{"run:1", "run:2"} {
		if res := s.RunSequential(context.Background(), []string{"echo $GEN $PATH"}, "", key, RunOptions{}); !res.Success {
			t.Fatalf("run %s = %+v", key, res)
		}
	}
	if got := buffers.Get("run:1").String(); got != "1 /opt/tools:/usr/bin:/bin\n" {
		t.Errorf("run:1 output = %q", got)
	}
	if got := buffers.Get("run:2").String(); got != "2 /opt/tools:/usr/bin:/bin\n" {
		t.Errorf("run:2 output = %q", got)
	}
}

func TestRunAndWait(t *testing.T) {
	s, buffers, rec := newTestSupervisor(t, Options{})

	res := s.RunAndWait(context.Background(), []string{"echo a", "echo b"}, "", RunOptions{})
	if !res.Success || res.Output != "a\nb\n" {
		t.Errorf("result = %+v", res)
	}

	res = s.RunAndWait(context.Background(), []string{"echo a", "exit 2", "echo c"}, "", RunOptions{})
	if res.Success || res.Err == nil || res.Output != "a\n" {
		t.Errorf("result = %+v, want failure after the first command", res)
	}

	if res := s.RunAndWait(context.Background(), nil, "", RunOptions{}); !errors.Is(res.Err, ErrNoCommands) {
		t.Errorf("Err = %v, want ErrNoCommands", res.Err)
	}
	if keys := buffers.Keys(); len(keys) != 0 {
		t.Errorf("RunAndWait created buffers %v", keys)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("RunAndWait published %d events", len(got))
	}
}

func TestPersistentTerminal(t *testing.T) {
	s, buffers, rec := newTestSupervisor(t, Options{})

	h, err := s.RunPersistent([]string{"echo hello"}, "", "term:echo", PersistentOptions{})
	if err != nil {
		t.Fatalf("RunPersistent: %v", err)
	}
	<-h.Done()

	if got := buffers.Get("term:echo").String(); !strings.Contains(got, "hello") {
		t.Errorf("buffer = %q, want hello", got)
	}
	var exit *events.TerminalExit
	for _, e := range rec.snapshot() {
		if p, ok := e.Payload.(events.TerminalExit); ok {
			exit = &p
		}
	}
	if exit == nil || exit.ExitCode != 0 {
		t.Errorf("exit event = %+v, want exit code 0", exit)
	}
}

func TestPersistentTerminalInput(t *testing.T) {
	s, buffers, _ := newTestSupervisor(t, Options{})

	h, err := s.RunPersistent([]string{"cat"}, "", "term:cat", PersistentOptions{Cols: 100, Rows: 30})
	if err != nil {
		t.Fatalf("RunPersistent: %v", err)
	}
	if h.Cols != 100 || h.Rows != 30 {
		t.Errorf("size = %dx%d, want 100x30", h.Cols, h.Rows)
	}

	if err := s.Write("term:cat", []byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, "echoed input", func() bool {
		return strings.Contains(buffers.Get("term:cat").String(), "ping")
	})

	if err := s.Resize("term:cat", 120, 40); err != nil {
		t.Errorf("Resize: %v", err)
	}
	if !s.KillProcess("term:cat") {
		t.Error("KillProcess returned false")
	}
	if err := s.Write("term:cat", []byte("x")); !errors.Is(err, ErrNoProcess) {
		t.Errorf("Write after kill = %v, want ErrNoProcess", err)
	}
}

func TestResizeRejectsInvalidSize(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	h, err := s.RunPersistent([]string{"sleep 100"}, "", "term:size", PersistentOptions{})
	if err != nil {
		t.Fatalf("RunPersistent: %v", err)
	}
	tests := []struct {
		name       string
		cols, rows int
	}{
		{"zero cols", 0, 24},
		{"zero rows", 80, 0},
		{"negative", -80, 24},
		{"cols overflow", 65536, 24},
		{"rows overflow", 80, 1 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Resize("term:size", tt.cols, tt.rows); !errors.Is(err, ErrInvalidSize) {
				t.Errorf("Resize = %v, want ErrInvalidSize", err)
			}
		})
	}
	if h.Cols != defaultCols || h.Rows != defaultRows {
		t.Errorf("size = %dx%d after rejected resizes", h.Cols, h.Rows)
	}
	if err := s.Resize("term:size", 65535, 1); err != nil {
		t.Errorf("Resize to the largest size: %v", err)
	}

	if _, err := s.RunPersistent([]string{"sleep 100"}, "", "term:big", PersistentOptions{Cols: 70000}); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("RunPersistent = %v, want ErrInvalidSize", err)
	}
}

func TestWriteToNonTerminal(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	go s.RunSequential(context.Background(), []string{"sleep 100"}, "", "run:plain", RunOptions{})
	waitForHandle(t, s, "run:plain")

	if err := s.Write("run:plain", []byte("x")); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Write = %v, want ErrNotTerminal", err)
	}
	if err := s.Resize("run:plain", 10, 10); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Resize = %v, want ErrNotTerminal", err)
	}
}

func TestKillReachesBackgroundChildren(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}
	s, buffers, _ := newTestSupervisor(t, Options{})

	go s.RunSequential(context.Background(), []string{"sleep 100 & echo $!; wait"}, "", "run:tree", RunOptions{})
	var childPID int
	waitFor(t, "background pid", func() bool {
		out := strings.TrimSpace(buffers.Get("run:tree").String())
		pid, err := strconv.Atoi(out)
		childPID = pid
		return err == nil
	})

	s.KillProcess("run:tree")

	// The orphaned child is dead once it is gone or a zombie waiting to be reaped.
	waitFor(t, "background child to die", func() bool {
		stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", childPID))
		if err != nil {
			return true
		}
		fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
		return len(fields) > 0 && fields[0] == "Z"
	})
}
