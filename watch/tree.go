// Package watch publishes changes of a worktree on the event hub: file tree changes on the
// file-change channel and git status changes on the status-change channel.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"squadstream/events"
	"squadstream/log"
)

// TreeWatcher publishes a FileChange for every file or directory added, removed or changed
// below its root. Paths matched by the tree's .gitignore files and the .git directory are
// skipped.
type TreeWatcher struct {
	hub    *events.Hub
	root   string
	fsw    *fsnotify.Watcher
	ignore gitignore.Matcher
	errLog *log.Every

	mu sync.Mutex
	// dirs holds the watched directories, so a removal can be reported as unlinkDir after
	// the directory is gone.
	dirs map[string]bool
}

// NewTreeWatcher starts watching root recursively. Events are read by Run.
func NewTreeWatcher(hub *events.Hub, root string) (*TreeWatcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		log.WarningLog.Printf("could not read ignore patterns of %s: %v", root, err)
	}
	patterns = append(patterns, gitignore.ParsePattern(".git", nil))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating file watcher: %w", err)
	}
	w := &TreeWatcher{
		hub:    hub,
		root:   root,
		fsw:    fsw,
		ignore: gitignore.NewMatcher(patterns),
		errLog: log.NewEvery(10 * time.Second),
		dirs:   make(map[string]bool),
	}
	if err := w.addTree(root, false); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute path of the watched tree.
func (w *TreeWatcher) Root() string {
	return w.root
}

// Run publishes changes until ctx is done, then releases the watcher.
func (w *TreeWatcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.ErrorLog.Printf("file watcher of %s overflowed, changes were lost", w.root)
				continue
			}
			if w.errLog.ShouldLog() {
				log.WarningLog.Printf("file watcher error in %s: %v", w.root, err)
			}
		}
	}
}

func (w *TreeWatcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			// Already gone again.
			return
		}
		if info.IsDir() {
			if err := w.addTree(ev.Name, true); err != nil && w.errLog.ShouldLog() {
				log.WarningLog.Printf("could not watch %s: %v", ev.Name, err)
			}
			return
		}
		w.publish(events.FileAdded, ev.Name, false)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.forgetDir(ev.Name) {
			w.publish(events.DirRemoved, ev.Name, true)
			return
		}
		w.publish(events.FileRemoved, ev.Name, false)
	case ev.Has(fsnotify.Write):
		w.publish(events.FileChanged, ev.Name, false)
	}
}

// addTree watches dir and every directory below it. With announce set, everything found is
// published as added, since it may have been created before the watch was in place.
func (w *TreeWatcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Removed while walking.
			if path == dir {
				return err
			}
			return nil
		}
		if path != w.root && w.ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if announce {
				w.publish(events.FileAdded, path, false)
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("error watching %s: %w", path, err)
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		if announce {
			w.publish(events.DirAdded, path, true)
		}
		return nil
	})
}

// forgetDir drops path and the directories below it and reports whether path was a
// watched directory. fsnotify removes the watches of deleted directories itself.
func (w *TreeWatcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[path] {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
	return true
}

func (w *TreeWatcher) relative(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *TreeWatcher) ignored(path string, isDir bool) bool {
	rel := w.relative(path)
	if rel == "." {
		return false
	}
	return w.ignore.Match(strings.Split(rel, "/"), isDir)
}

func (w *TreeWatcher) publish(kind events.FileChangeKind, path string, isDir bool) {
	if path == w.root || w.ignored(path, isDir) {
		return
	}
	w.hub.Emit(events.FileChange{
		RootPath:     w.root,
		Kind:         kind,
		ChangedPath:  path,
		RelativePath: w.relative(path),
	})
}
