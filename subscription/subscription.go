// Package subscription turns pushes on the event hub into cancellable, pull based event
// sequences for consumers that read at their own pace, such as remote websocket clients.
//
// Each subscription owns a private unbounded queue. The hub listener filters and appends to
// the queue and wakes the consumer; the consumer drains the whole queue per wake-up. A slow
// consumer never blocks producers, it only grows its own queue.
package subscription

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"squadstream/events"
)

var (
	// ErrCancelled is returned by Next once the subscription was cancelled.
	ErrCancelled = errors.New("subscription cancelled")
	// ErrOverflow is returned by Next when the queue grew past the high water mark and the
	// subscription was disconnected.
	ErrOverflow = errors.New("subscription queue exceeded its high water mark")
)

// Delivery selects how queued events wake the consumer.
type Delivery int

const (
	// Immediate wakes the consumer on every matching event.
	Immediate Delivery = iota
	// Batched wakes the consumer a fixed delay after the first event following an idle
	// period, so a burst is delivered in one drain.
	Batched
)

// DefaultBatchDelay is used for batched subscriptions that don't set a delay.
const DefaultBatchDelay = 16 * time.Millisecond

// Policy configures delivery of one subscription.
type Policy struct {
	Delivery Delivery
	// Delay is the coalescing window of batched delivery.
	Delay time.Duration
	// HighWaterMark overrides the bridge default when positive.
	HighWaterMark int
}

// Subscription is a live consumer registered on the hub. Read it with Next or Events and
// release it with Cancel.
type Subscription struct {
	ID string

	hub           *events.Hub
	filter        compiledFilter
	policy        Policy
	highWaterMark int
	listenerIDs   map[events.Channel]events.ListenerID

	mu    sync.Mutex
	queue []events.Event
	timer *time.Timer
	// timerGen identifies the pending timer; a timer that fires after it was replaced is ignored.
	timerGen uint64
	closed   bool
	err      error

	// wake holds at most one pending wake-up for the consumer.
	wake chan struct{}
	done chan struct{}

	teardownOnce sync.Once
	onTeardown   func(*Subscription)
}

func newSubscription(hub *events.Hub, filter Filter, policy Policy, highWaterMark int, onTeardown func(*Subscription)) *Subscription {
	if policy.Delivery == Batched && policy.Delay <= 0 {
		policy.Delay = DefaultBatchDelay
	}
	if policy.HighWaterMark > 0 {
		highWaterMark = policy.HighWaterMark
	}
	s := &Subscription{
		ID:            uuid.NewString(),
		hub:           hub,
		filter:        filter.compile(),
		policy:        policy,
		highWaterMark: highWaterMark,
		listenerIDs:   make(map[events.Channel]events.ListenerID),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		onTeardown:    onTeardown,
	}
	for _, channel := range s.filter.channels {
		s.listenerIDs[channel] = hub.On(channel, s.receive)
	}
	return s
}

// receive is the hub listener. It runs on the producer's goroutine and must not block.
func (s *Subscription) receive(e events.Event) {
	if !s.filter.matches(e) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	if s.highWaterMark > 0 && len(s.queue) > s.highWaterMark {
		s.mu.Unlock()
		s.teardown(ErrOverflow)
		return
	}
	if s.policy.Delivery == Batched {
		if s.timer == nil {
			s.timerGen++
			gen := s.timerGen
			s.timer = time.AfterFunc(s.policy.Delay, func() { s.timerFired(gen) })
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) timerFired(gen uint64) {
	s.mu.Lock()
	if s.timer == nil || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next parks until the subscription is woken with queued events and returns all of them,
// oldest first. It returns ErrCancelled or ErrOverflow once the subscription is torn down.
// Cancelling ctx cancels the subscription.
func (s *Subscription) Next(ctx context.Context) ([]events.Event, error) {
	for {
		select {
		case <-s.wake:
			if batch := s.drain(); len(batch) > 0 {
				return batch, nil
			}
			if err := s.Err(); err != nil {
				return nil, err
			}
		case <-s.done:
			return nil, s.Err()
		case <-ctx.Done():
			s.Cancel()
			return nil, ctx.Err()
		}
	}
}

func (s *Subscription) drain() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.queue) == 0 {
		return nil
	}
	batch := s.queue
	s.queue = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return batch
}

// Events returns the subscription as an infinite sequence. The sequence ends only when the
// subscription is cancelled, ctx is done, or the loop body stops early; every way out
// cancels the subscription. It can be ranged over once.
func (s *Subscription) Events(ctx context.Context) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		defer s.Cancel()
		for {
			batch, err := s.Next(ctx)
			if err != nil {
				return
			}
			for _, e := range batch {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Cancel stops deliveries and deregisters the hub listeners. Safe to call more than once
// and from any goroutine.
func (s *Subscription) Cancel() {
	s.teardown(ErrCancelled)
}

// Done is closed when the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of queued events not yet returned by Next.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// teardown is the single cleanup path for cancel, context cancellation, early return,
// transport closure and overflow.
func (s *Subscription) teardown(reason error) {
	s.teardownOnce.Do(func() {
		for channel, id := range s.listenerIDs {
			s.hub.Off(channel, id)
		}

		s.mu.Lock()
		s.closed = true
		s.err = reason
		s.queue = nil
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()

		close(s.done)
		if s.onTeardown != nil {
			s.onTeardown(s)
		}
	})
}
