// Package render throttles redraw notifications of the local view. Output is written to
// the buffers immediately; only the "please redraw" signal is coalesced to one per frame.
package render

import (
	"sync"
	"time"

	"squadstream/events"
	"squadstream/output"
)

// DefaultFrameInterval is one frame at 60 Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// frame is a scheduled notification for one key.
type frame struct {
	timer *time.Timer
}

// Throttle schedules at most one notification per key per frame, no matter how many
// writes were recorded in that frame.
type Throttle struct {
	interval time.Duration
	notify   func(key string)
	buffers  *output.Registry

	mu      sync.Mutex
	pending map[string]*frame
	stopped bool

	hub         *events.Hub
	listenerIDs map[events.Channel]events.ListenerID
}

// NewThrottle creates a throttle that calls notify at most once per interval per key.
// buffers may be nil; when set, Clear also empties the key's buffer.
func NewThrottle(buffers *output.Registry, interval time.Duration, notify func(key string)) *Throttle {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Throttle{
		interval: interval,
		notify:   notify,
		buffers:  buffers,
		pending:  make(map[string]*frame),
	}
}

// Attach records a write for every output event published on hub. Stop detaches.
func (t *Throttle) Attach(hub *events.Hub) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hub != nil || t.stopped {
		return
	}
	t.hub = hub
	t.listenerIDs = make(map[events.Channel]events.ListenerID)
	for _, channel := range []events.Channel{events.ChannelScriptOutput, events.ChannelTerminalData, events.ChannelTerminalExit} {
		t.listenerIDs[channel] = hub.On(channel, func(e events.Event) { t.Record(e.Key) })
	}
}

// Record notes that key's buffer changed. A notification is scheduled for the end of the
// current frame unless one is already pending.
func (t *Throttle) Record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if _, ok := t.pending[key]; ok {
		return
	}
	f := &frame{}
	f.timer = time.AfterFunc(t.interval, func() { t.fire(key, f) })
	t.pending[key] = f
}

func (t *Throttle) fire(key string, f *frame) {
	t.mu.Lock()
	if t.pending[key] != f {
		// Cleared or flushed in the meantime.
		t.mu.Unlock()
		return
	}
	delete(t.pending, key)
	t.mu.Unlock()

	t.notify(key)
}

// Clear empties key's buffer, cancels its pending notification and notifies synchronously.
// A user initiated clear is never delayed.
func (t *Throttle) Clear(key string) {
	if t.buffers != nil {
		t.buffers.Clear(key)
	}

	t.mu.Lock()
	if f, ok := t.pending[key]; ok {
		f.timer.Stop()
		delete(t.pending, key)
	}
	t.mu.Unlock()

	t.notify(key)
}

// Pending reports whether a notification is scheduled for key.
func (t *Throttle) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// Flush delivers every pending notification now.
func (t *Throttle) Flush() {
	t.mu.Lock()
	keys := make([]string, 0, len(t.pending))
	for key, f := range t.pending {
		f.timer.Stop()
		keys = append(keys, key)
	}
	clear(t.pending)
	t.mu.Unlock()

	for _, key := range keys {
		t.notify(key)
	}
}

// Stop cancels pending notifications and detaches from the hub. Records after Stop are
// ignored.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	for _, f := range t.pending {
		f.timer.Stop()
	}
	clear(t.pending)
	if t.hub != nil {
		for channel, id := range t.listenerIDs {
			t.hub.Off(channel, id)
		}
	}
}
