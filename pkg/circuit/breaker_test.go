package circuit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) (any, error) { return nil, errBoom }
func okOp(ctx context.Context) (any, error)      { return "ok", nil }

func newTestBreaker(threshold int, reset time.Duration) *Breaker {
	return New("test-resource", Config{
		FailureThreshold: threshold,
		MonitoringPeriod: time.Minute,
		ResetTimeout:     reset,
	}, nil)
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := newTestBreaker(3, 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Execute(ctx, failingOp, nil)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// The 4th call short-circuits without executing the operation.
	var invoked atomic.Bool
	_, err := b.Execute(ctx, func(context.Context) (any, error) {
		invoked.Store(true)
		return nil, nil
	}, nil)
	assert.Equal(t, fault.CodeCircuitOpen, fault.CodeOf(err))
	assert.False(t, invoked.Load())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(2, 30*time.Millisecond)
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// Probe succeeds → CLOSED.
	result, err := b.Execute(ctx, okOp, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	_, err := b.Execute(ctx, failingOp, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_FallbackWhileOpen(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	before := b.Metrics().TotalRequests
	result, err := b.Execute(ctx, failingOp, func(context.Context) (any, error) {
		return "fallback", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)

	// Fallback calls are not counted against thresholds.
	assert.Equal(t, before, b.Metrics().TotalRequests)
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var timeouts atomic.Int32
	bus.Subscribe(events.EventTypeCircuitTimeout, func(events.Event) { timeouts.Add(1) })

	b := New("slow", Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		CallTimeout:      20 * time.Millisecond,
	}, bus)

	_, err := b.Execute(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil)

	assert.Equal(t, fault.CodeTimeout, fault.CodeOf(err))
	assert.Equal(t, StateOpen, b.State())

	deadline := time.Now().Add(time.Second)
	for timeouts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), timeouts.Load())
}

func TestBreaker_StateChangeEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	transitions := make(chan events.CircuitStateChangedPayload, 8)
	bus.Subscribe(events.EventTypeCircuitStateChanged, func(ev events.Event) {
		transitions <- ev.Data.(events.CircuitStateChangedPayload)
	})

	b := New("r1", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, bus)
	ctx := context.Background()

	b.Execute(ctx, failingOp, nil)
	time.Sleep(15 * time.Millisecond)
	b.Execute(ctx, okOp, nil)

	want := [][2]string{
		{"CLOSED", "OPEN"},
		{"OPEN", "HALF_OPEN"},
		{"HALF_OPEN", "CLOSED"},
	}
	for _, w := range want {
		select {
		case got := <-transitions:
			assert.Equal(t, w[0], got.From)
			assert.Equal(t, w[1], got.To)
		case <-time.After(time.Second):
			t.Fatalf("missing transition %v → %v", w[0], w[1])
		}
	}
}

func TestBreaker_Metrics(t *testing.T) {
	b := newTestBreaker(10, time.Minute)
	ctx := context.Background()

	b.Execute(ctx, okOp, nil)
	b.Execute(ctx, okOp, nil)
	b.Execute(ctx, failingOp, nil)

	m := b.Metrics()
	assert.Equal(t, uint64(2), m.Successes)
	assert.Equal(t, uint64(1), m.Failures)
	assert.Equal(t, uint64(3), m.TotalRequests)
	assert.InDelta(t, 1.0/3.0, m.FailureRate, 0.001)
	assert.Equal(t, StateClosed, m.State)
}

func TestRegistry_SharesBreakerPerResource(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1}, nil)

	b1 := r.Get("provider:pA")
	b2 := r.Get("provider:pA")
	b3 := r.Get("provider:pB")

	assert.Same(t, b1, b2)
	assert.NotSame(t, b1, b3)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	b := r.Get("x")
	b.Execute(ctx, failingOp, nil)
	require.Equal(t, StateOpen, b.State())

	r.ResetAll()
	assert.Equal(t, StateClosed, b.State())

	r.ResetAll() // idempotent
	assert.Equal(t, StateClosed, b.State())
}
