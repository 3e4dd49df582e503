package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"squadstream/events"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []events.FileChange
}

func recordChanges(hub *events.Hub) *changeRecorder {
	r := &changeRecorder{}
	hub.On(events.ChannelFileChange, func(e events.Event) {
		r.mu.Lock()
		r.changes = append(r.changes, e.Payload.(events.FileChange))
		r.mu.Unlock()
	})
	return r
}

func (r *changeRecorder) has(kind events.FileChangeKind, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.changes {
		if c.Kind == kind && c.RelativePath == rel {
			return true
		}
	}
	return false
}

func (r *changeRecorder) waitFor(t *testing.T, kind events.FileChangeKind, rel string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.has(kind, rel) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("no %s event for %s; got %+v", kind, rel, r.changes)
}

func startTreeWatcher(t *testing.T, root string) (*events.Hub, *changeRecorder) {
	t.Helper()
	hub := events.NewHub()
	rec := recordChanges(hub)
	w, err := NewTreeWatcher(hub, root)
	if err != nil {
		t.Fatalf("NewTreeWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, rec
}

func TestTreeWatcherPublishesChanges(t *testing.T) {
	root := t.TempDir()
	_, rec := startTreeWatcher(t, root)

	file := filepath.Join(root, "main.go")
	if err := os.WriteFile(file, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.FileAdded, "main.go")

	if err := os.WriteFile(file, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.FileChanged, "main.go")

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.FileRemoved, "main.go")
}

func TestTreeWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, rec := startTreeWatcher(t, root)

	dir := filepath.Join(root, "pkg")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.DirAdded, "pkg")

	if err := os.WriteFile(filepath.Join(dir, "a.go"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.FileAdded, "pkg/a.go")

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.DirRemoved, "pkg")
}

func TestTreeWatcherSkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\nbuild/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "build"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, rec := startTreeWatcher(t, root)

	for _, name := range []string{"debug.log", "build/out.bin", "kept.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// kept.txt is written last, so once it shows up the others would have too.
	rec.waitFor(t, events.FileAdded, "kept.txt")

	if rec.has(events.FileAdded, "debug.log") {
		t.Error("ignored file debug.log was published")
	}
	if rec.has(events.FileAdded, "build/out.bin") {
		t.Error("file in ignored directory was published")
	}
}

func TestTreeWatcherEventFields(t *testing.T) {
	root := t.TempDir()
	_, rec := startTreeWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "x.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, events.FileAdded, "x.txt")

	abs, _ := filepath.Abs(root)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c := rec.changes[0]
	if c.RootPath != abs || c.ChangedPath != filepath.Join(abs, "x.txt") {
		t.Errorf("change = %+v", c)
	}
}

func TestNewTreeWatcherRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTreeWatcher(events.NewHub(), file); err == nil {
		t.Error("NewTreeWatcher accepted a file")
	}
}
