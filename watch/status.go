package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"

	"squadstream/events"
	"squadstream/log"
)

// StatusWatcher publishes a StatusChange whenever the git status of a worktree differs
// from the previous poll.
type StatusWatcher struct {
	hub      *events.Hub
	repo     *git.Repository
	root     string
	interval time.Duration
	nudge    chan struct{}
	errLog   *log.Every

	last   string
	polled bool
}

// NewStatusWatcher opens the repository containing path.
func NewStatusWatcher(hub *events.Hub, path string, interval time.Duration) (*StatusWatcher, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree of %s: %w", path, err)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusWatcher{
		hub:      hub,
		repo:     repo,
		root:     wt.Filesystem.Root(),
		interval: interval,
		nudge:    make(chan struct{}, 1),
		errLog:   log.NewEvery(time.Minute),
	}, nil
}

// Root returns the worktree root.
func (w *StatusWatcher) Root() string {
	return w.root
}

// Nudge asks for a poll ahead of the next tick.
func (w *StatusWatcher) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Poll reads the status and publishes a StatusChange if it changed. The first poll only
// records the baseline. Poll must not be called concurrently with Run.
func (w *StatusWatcher) Poll() (bool, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status of %s: %w", w.root, err)
	}

	current := status.String()
	changed := w.polled && current != w.last
	w.last, w.polled = current, true
	if changed {
		w.hub.Emit(events.StatusChange{Path: w.root})
	}
	return changed, nil
}

// Run polls every interval and on nudges until ctx is done.
func (w *StatusWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(); err != nil && w.errLog.ShouldLog() {
			log.WarningLog.Printf("git status watcher: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.nudge:
		}
	}
}
