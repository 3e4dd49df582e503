package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"

	"squadstream/events"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return dir
}

func TestStatusWatcherPoll(t *testing.T) {
	dir := initRepo(t)
	hub := events.NewHub()
	var published []string
	hub.On(events.ChannelStatusChange, func(e events.Event) {
		published = append(published, e.Payload.(events.StatusChange).Path)
	})

	w, err := NewStatusWatcher(hub, dir, time.Second)
	if err != nil {
		t.Fatalf("NewStatusWatcher: %v", err)
	}
	if changed, err := w.Poll(); err != nil || changed {
		t.Fatalf("first Poll = %v, %v; want baseline only", changed, err)
	}
	if changed, _ := w.Poll(); changed {
		t.Error("Poll without changes reported a change")
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := w.Poll()
	if err != nil || !changed {
		t.Fatalf("Poll after edit = %v, %v; want a change", changed, err)
	}
	if len(published) != 1 || published[0] != w.Root() {
		t.Errorf("published = %v, want [%s]", published, w.Root())
	}
}

func TestStatusWatcherFindsRepositoryFromSubdirectory(t *testing.T) {
	dir := initRepo(t)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := NewStatusWatcher(events.NewHub(), sub, time.Second)
	if err != nil {
		t.Fatalf("NewStatusWatcher: %v", err)
	}
	if w.Root() != dir {
		t.Errorf("Root = %s, want %s", w.Root(), dir)
	}
}

func TestStatusWatcherOutsideRepository(t *testing.T) {
	if _, err := NewStatusWatcher(events.NewHub(), t.TempDir(), time.Second); err == nil {
		t.Error("NewStatusWatcher succeeded outside a repository")
	}
}

func TestRunPublishesStatusAfterEdit(t *testing.T) {
	dir := initRepo(t)
	hub := events.NewHub()
	var statusChanges atomic.Int32
	hub.On(events.ChannelStatusChange, func(events.Event) { statusChanges.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	// A long interval: the edit must be picked up through the nudge.
	go func() { done <- Run(ctx, hub, dir, time.Hour) }()

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; statusChanges.Load() == 0 && time.Now().Before(deadline); i++ {
		// A new untracked file each round until the watchers are up.
		_ = os.WriteFile(filepath.Join(dir, fmt.Sprintf("edit-%d.txt", i)), nil, 0o644)
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if statusChanges.Load() == 0 {
		t.Error("no status change published")
	}
}
