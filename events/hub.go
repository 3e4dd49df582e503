// Package events is the in-process publish/subscribe hub that process output, terminal
// and watcher events are published on.
//
// Delivery is synchronous: every listener of a channel is called, in registration order,
// within the Emit call. The hub never queues. Consumers that need to decouple from the
// producer (see package subscription) queue on their side.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"squadstream/log"
)

// Listener receives events emitted on a channel it is registered on.
type Listener func(Event)

// ListenerID identifies a registration so it can be removed with Off.
type ListenerID uint64

type registration struct {
	id       ListenerID
	listener Listener
}

// Hub is a typed publish/subscribe hub. The zero value is not usable, call NewHub.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Channel][]registration
	nextID    ListenerID

	seq atomic.Uint64
	// panicLog rate limits logging of misbehaving listeners.
	panicLog *log.Every
}

func NewHub() *Hub {
	return &Hub{
		listeners: make(map[Channel][]registration),
		panicLog:  log.NewEvery(10 * time.Second),
	}
}

// On registers listener on channel and returns its id.
func (h *Hub) On(channel Channel, listener Listener) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	// Copy on write so Emit can iterate a snapshot without holding the lock.
	regs := make([]registration, len(h.listeners[channel]), len(h.listeners[channel])+1)
	copy(regs, h.listeners[channel])
	h.listeners[channel] = append(regs, registration{id: id, listener: listener})
	return id
}

// Off removes the listener with the given id from channel. Removing an unknown id is a no-op.
func (h *Hub) Off(channel Channel, id ListenerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	regs := h.listeners[channel]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		remaining := make([]registration, 0, len(regs)-1)
		remaining = append(remaining, regs[:i]...)
		remaining = append(remaining, regs[i+1:]...)
		if len(remaining) == 0 {
			delete(h.listeners, channel)
		} else {
			h.listeners[channel] = remaining
		}
		return
	}
}

// RemoveAllListeners drops the listeners of the given channels, or of every channel when
// called without arguments.
func (h *Hub) RemoveAllListeners(channels ...Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(channels) == 0 {
		h.listeners = make(map[Channel][]registration)
		return
	}
	for _, channel := range channels {
		delete(h.listeners, channel)
	}
}

// ListenerCount returns the number of listeners registered on channel.
func (h *Hub) ListenerCount(channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[channel])
}

// Emit delivers payload to every listener of its channel before returning. A listener that
// panics is logged and skipped; the others still receive the event.
func (h *Hub) Emit(payload Payload) {
	channel := payload.Channel()

	h.mu.RLock()
	regs := h.listeners[channel]
	h.mu.RUnlock()

	event := Event{
		Channel: channel,
		Key:     payload.Key(),
		Seq:     h.seq.Add(1),
		Payload: payload,
	}
	for _, reg := range regs {
		h.deliver(reg, event)
	}
}

func (h *Hub) deliver(reg registration, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if h.panicLog.ShouldLog() {
				log.ErrorLog.Printf("listener %d on %s panicked: %v", reg.id, event.Channel, r)
			}
		}
	}()
	reg.listener(event)
}
