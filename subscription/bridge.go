package subscription

import (
	"sync"
	"time"

	"squadstream/events"
)

// Options configures a Bridge.
type Options struct {
	// BatchDelay is the default delay of batched subscriptions.
	BatchDelay time.Duration
	// HighWaterMark disconnects subscriptions whose queue grows past it. 0 keeps queues
	// unbounded.
	HighWaterMark int
}

// Bridge creates subscriptions on a hub and keeps track of the live ones.
type Bridge struct {
	hub  *events.Hub
	opts Options

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewBridge(hub *events.Hub, opts Options) *Bridge {
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	return &Bridge{
		hub:  hub,
		opts: opts,
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers a new subscription. Every subscription gets its own copy of each
// matching event, including subscriptions with identical filters.
func (b *Bridge) Subscribe(filter Filter, policy Policy) *Subscription {
	if policy.Delivery == Batched && policy.Delay <= 0 {
		policy.Delay = b.opts.BatchDelay
	}

	// Hold the lock across registration so a teardown racing with Subscribe can't remove
	// the subscription from the map before it is added.
	b.mu.Lock()
	defer b.mu.Unlock()
	s := newSubscription(b.hub, filter, policy, b.opts.HighWaterMark, b.forget)
	b.subs[s.ID] = s
	return s
}

func (b *Bridge) forget(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.ID)
}

// Active returns the number of live subscriptions.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every live subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}
