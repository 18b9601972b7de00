package events

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler processes a delivered event. Handlers run on the subscription's
// delivery goroutine and must treat Event.Data as read-only.
type Handler func(Event)

// Subscription represents one registered handler. It is returned by
// Subscribe and passed back to Unsubscribe.
type Subscription struct {
	id      string
	pattern string
	handler Handler
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() string { return s.pattern }

// Dropped returns how many events were discarded because this subscriber's
// queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Bus is the in-process event bus. One Bus instance is owned by the runtime
// root and shared by all components.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup

	queueSize  int
	enqueueCap time.Duration
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue capacity (default 256).
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithEnqueueCap bounds how long Publish may wait on a full queue after
// dropping the oldest entry (default 10ms).
func WithEnqueueCap(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.enqueueCap = d
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]*Subscription),
		queueSize:  256,
		enqueueCap: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for events matching pattern. Patterns are
// either exact types ("provider.success"), prefixes ("provider.*"), or "*"
// for everything. Delivery starts immediately on a dedicated goroutine.
func (b *Bus) Subscribe(pattern string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)
	return sub
}

// Unsubscribe removes a subscription and stops its delivery goroutine.
// Events already queued but not yet handled are discarded. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if present {
		close(sub.done)
	}
}

// Publish fans the event out to all matching subscribers. It never blocks
// the caller longer than the enqueue cap per subscriber: a full queue drops
// its oldest entry to make room, incrementing the subscriber's counter.
func (b *Bus) Publish(ev Event) {
	if ev.SpecVersion == "" {
		ev.SpecVersion = SpecVersion
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if Matches(sub.pattern, ev.Type) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.enqueue(sub, ev)
	}
}

// Close tears down all subscriptions and waits for delivery goroutines to
// drain. After Close, Publish is a no-op and Subscribe returns inert
// subscriptions. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}

// SubscriberCount returns the number of active subscriptions. Used by tests
// to poll instead of sleeping.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) enqueue(sub *Subscription, ev Event) {
	select {
	case sub.queue <- ev:
		return
	default:
	}

	// Queue full: drop the oldest queued event to make room. The delivery
	// goroutine may race us for that slot; the bounded wait below covers
	// the case where it wins and the queue refills.
	select {
	case <-sub.queue:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.queue <- ev:
	case <-sub.done:
	case <-time.After(b.enqueueCap):
		sub.dropped.Add(1)
	}
}

func (b *Bus) deliver(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			b.invoke(sub, ev)
		}
	}
}

// invoke runs the handler, containing panics so a broken subscriber never
// affects publishers or sibling subscribers.
func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"pattern", sub.pattern, "event_type", ev.Type, "panic", r)
			// Surface the failure on the bus itself, but never for the
			// failure event type — that would recurse.
			if ev.Type != EventTypeHandlerFailed {
				b.Publish(New(EventTypeHandlerFailed, "bus", ev.CorrelationID, HandlerFailedPayload{
					Pattern:   sub.pattern,
					EventType: ev.Type,
					Panic:     fmt.Sprint(r),
				}))
			}
		}
	}()
	sub.handler(ev)
}

// Matches reports whether a topic pattern matches an event type.
func Matches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
