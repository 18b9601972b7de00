package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before deadline")
}

func TestBus_PublishAndReceive(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got atomic.Value
	bus.Subscribe(EventTypeProviderSuccess, func(ev Event) {
		got.Store(ev)
	})

	bus.Publish(New(EventTypeProviderSuccess, "chain", "corr-1", ProviderSuccessPayload{Provider: "pB"}))

	waitFor(t, func() bool { return got.Load() != nil })
	ev := got.Load().(Event)
	assert.Equal(t, SpecVersion, ev.SpecVersion)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "pB", ev.Data.(ProviderSuccessPayload).Provider)
}

func TestBus_PrefixPattern(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	bus.Subscribe("provider.*", func(Event) { count.Add(1) })

	bus.Publish(New(EventTypeProviderFallback, "chain", "", nil))
	bus.Publish(New(EventTypeProviderSuccess, "chain", "", nil))
	bus.Publish(New(EventTypeAgentStarted, "runtime", "", nil))

	waitFor(t, func() bool { return count.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "agent.started", true},
		{"agent.started", "agent.started", true},
		{"agent.started", "agent.failed", false},
		{"agent.*", "agent.failed", true},
		{"agent.*", "agents.failed", false},
		{"tool.mapping.*", "tool.mapping.completed", true},
		{"tool.*", "tool.mapping.completed", true},
		{"provider.*", "provider", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.pattern, tt.eventType))
		})
	}
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []int
	bus.Subscribe(EventTypeToolCallCompleted, func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Data.(int))
		mu.Unlock()
	})

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(New(EventTypeToolCallCompleted, "test", "", i))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestBus_DropOldestOnOverflow(t *testing.T) {
	bus := NewBus(WithQueueSize(4), WithEnqueueCap(time.Millisecond))
	defer bus.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	sub := bus.Subscribe(EventTypeAgentStarted, func(ev Event) {
		<-release
		mu.Lock()
		seen = append(seen, ev.Data.(int))
		mu.Unlock()
	})

	// Flood a blocked subscriber well past its queue capacity.
	for i := 0; i < 50; i++ {
		bus.Publish(New(EventTypeAgentStarted, "test", "", i))
	}
	close(release)

	waitFor(t, func() bool { return sub.Dropped() > 0 })
	mu.Lock()
	delivered := len(seen)
	mu.Unlock()
	assert.Less(t, delivered, 50)
	assert.Greater(t, sub.Dropped(), uint64(0))
}

func TestBus_HandlerPanicContained(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var failures atomic.Int32
	bus.Subscribe(EventTypeHandlerFailed, func(Event) { failures.Add(1) })

	var delivered atomic.Int32
	bus.Subscribe(EventTypeAgentStarted, func(Event) {
		if delivered.Add(1) == 1 {
			panic("broken subscriber")
		}
	})

	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))
	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))

	// The panic is contained: the second event still arrives and the bus
	// reports the failure.
	waitFor(t, func() bool { return delivered.Load() == 2 })
	waitFor(t, func() bool { return failures.Load() == 1 })
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	sub := bus.Subscribe(EventTypeAgentStarted, func(Event) { count.Add(1) })

	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))
	waitFor(t, func() bool { return count.Load() == 1 })

	bus.Unsubscribe(sub)
	waitFor(t, func() bool { return bus.SubscriberCount() == 0 })

	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())

	// Unsubscribe twice is a no-op.
	bus.Unsubscribe(sub)
}

func TestBus_ResubscribeNoDuplicates(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	sub := bus.Subscribe(EventTypeAgentStarted, func(Event) { count.Add(1) })
	bus.Unsubscribe(sub)
	bus.Subscribe(EventTypeAgentStarted, func(Event) { count.Add(1) })

	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))

	waitFor(t, func() bool { return count.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestBus_CloseIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("*", func(Event) {})
	bus.Close()
	bus.Close()

	// Publish after close is a no-op.
	bus.Publish(New(EventTypeAgentStarted, "test", "", nil))
	assert.Equal(t, 0, bus.SubscriberCount())
}
