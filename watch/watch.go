package watch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"squadstream/events"
	"squadstream/log"
)

// Run watches the worktree at root until ctx is done. File changes are always published;
// git status changes only when root is inside a repository. A file change nudges the
// status watcher so status updates follow edits closely.
func Run(ctx context.Context, hub *events.Hub, root string, interval time.Duration) error {
	tree, err := NewTreeWatcher(hub, root)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tree.Run(ctx) })

	status, err := NewStatusWatcher(hub, tree.Root(), interval)
	if err != nil {
		log.InfoLog.Printf("not watching git status of %s: %v", tree.Root(), err)
	} else {
		id := hub.On(events.ChannelFileChange, func(e events.Event) {
			if e.Key == tree.Root() {
				status.Nudge()
			}
		})
		defer hub.Off(events.ChannelFileChange, id)
		g.Go(func() error { return status.Run(ctx) })
	}
	return g.Wait()
}
