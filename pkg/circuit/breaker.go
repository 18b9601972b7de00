// Package circuit provides per-resource circuit breakers guarding calls to
// providers and remote tool sources. A breaker fails fast while its resource
// is unhealthy and probes recovery through a single half-open call.
package circuit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the failure count within MonitoringPeriod that
	// trips the breaker (default 5).
	FailureThreshold int
	// MonitoringPeriod is the rolling window for counting failures
	// (default 60s).
	MonitoringPeriod time.Duration
	// ResetTimeout is how long the breaker stays OPEN before admitting a
	// half-open probe (default 30s).
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call; zero disables the per-call
	// deadline. A timed-out call counts as a failure.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Metrics is a snapshot of breaker counters.
type Metrics struct {
	Successes        uint64
	Failures         uint64
	TotalRequests    uint64
	FailureRate      float64
	State            State
	LastTransitionAt time.Time
}

// Operation is the guarded call.
type Operation func(ctx context.Context) (any, error)

// Breaker is a three-state circuit guard around one named resource.
// Counters are mutated under a single critical section; state transitions
// are atomic with respect to counting.
type Breaker struct {
	resource string
	cfg      Config
	bus      *events.Bus

	mu               sync.Mutex
	state            State
	windowStart      time.Time
	windowFailures   int
	probeInFlight    bool
	openedAt         time.Time
	lastTransitionAt time.Time

	successes uint64
	failures  uint64
	total     uint64
}

// New creates a breaker for the named resource. bus may be nil; state
// transitions then go unlogged on the bus but still apply.
func New(resource string, cfg Config, bus *events.Bus) *Breaker {
	now := time.Now()
	return &Breaker{
		resource:         resource,
		cfg:              cfg.withDefaults(),
		bus:              bus,
		state:            StateClosed,
		windowStart:      now,
		lastTransitionAt: now,
	}
}

// Execute runs op under the breaker. While OPEN it fails fast with a
// circuit_open fault unless fallback is non-nil, in which case the fallback
// result is returned and not counted against thresholds. The single
// half-open probe is the only call admitted while recovering.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Operation) (any, error) {
	admitted, probe := b.admit()
	if !admitted {
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, fault.New(fault.CodeCircuitOpen, "circuit open for %s", b.resource)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	result, err := op(callCtx)

	timedOut := err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	if timedOut {
		err = fault.Wrap(fault.CodeTimeout, err, "call to %s exceeded %s", b.resource, b.cfg.CallTimeout)
		b.publish(events.EventTypeCircuitTimeout, events.CircuitTimeoutPayload{
			Resource:  b.resource,
			TimeoutMS: b.cfg.CallTimeout.Milliseconds(),
		})
	}

	b.record(err == nil, probe)

	if err != nil && fallback != nil {
		if fbResult, fbErr := fallback(ctx); fbErr == nil {
			return fbResult, nil
		}
	}
	return result, err
}

// admit decides whether a call may proceed. Returns (admitted, isProbe).
func (b *Breaker) admit() (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false, false
		}
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return true, true
	case StateHalfOpen:
		// Exactly one probe at a time.
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	}
	return false, false
}

func (b *Breaker) record(success bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	if probe {
		b.probeInFlight = false
	}

	if success {
		b.successes++
		if b.state == StateHalfOpen {
			b.windowFailures = 0
			b.windowStart = time.Now()
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen {
		b.openedAt = time.Now()
		b.transitionLocked(StateOpen)
		return
	}

	// Rolling-window reset is done here, atomically with counting.
	now := time.Now()
	if now.Sub(b.windowStart) > b.cfg.MonitoringPeriod {
		b.windowStart = now
		b.windowFailures = 0
	}
	b.windowFailures++
	if b.state == StateClosed && b.windowFailures >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransitionAt = time.Now()
	slog.Debug("Circuit state changed", "resource", b.resource, "from", from, "to", to)
	b.publish(events.EventTypeCircuitStateChanged, events.CircuitStateChangedPayload{
		Resource: b.resource,
		From:     string(from),
		To:       string(to),
	})
}

func (b *Breaker) publish(eventType string, payload any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.New(eventType, "circuit:"+b.resource, "", payload))
}

// State returns the current position, applying the OPEN → HALF_OPEN
// transition when the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Resource returns the guarded resource name.
func (b *Breaker) Resource() string { return b.resource }

// Metrics returns a snapshot of breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	var rate float64
	if b.total > 0 {
		rate = float64(b.failures) / float64(b.total)
	}
	return Metrics{
		Successes:        b.successes,
		Failures:         b.failures,
		TotalRequests:    b.total,
		FailureRate:      rate,
		State:            b.state,
		LastTransitionAt: b.lastTransitionAt,
	}
}

// Reset forces the breaker back to CLOSED and clears window state. Used by
// the resource manager during shutdown and by tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowFailures = 0
	b.windowStart = time.Now()
	b.probeInFlight = false
	b.transitionLocked(StateClosed)
}
