package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/praxis-platform/praxis/pkg/circuit"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
)

// fastConfig keeps retries and backoff negligible in tests.
func fastConfig() ChainConfig {
	return ChainConfig{
		RetryAttempts:   1,
		BackoffBase:     time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		ProviderTimeout: time.Second,
	}
}

// captureProvider records the options of the last Generate call.
type captureProvider struct {
	*StubProvider
	mu   sync.Mutex
	last Options
}

func newCaptureProvider(name string) *captureProvider {
	return &captureProvider{StubProvider: NewStubProvider(name, StubResponse{Text: "ok"})}
}

func (c *captureProvider) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	c.mu.Lock()
	c.last = opts
	c.mu.Unlock()
	return c.StubProvider.Generate(ctx, prompt, opts)
}

func (c *captureProvider) lastOptions() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func collectEvents(bus *events.Bus, pattern string) (*sync.Mutex, *[]events.Event) {
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(pattern, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	return &mu, &got
}

func waitForEvents(t *testing.T, mu *sync.Mutex, got *[]events.Event, n int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		if len(*got) >= n {
			out := append([]events.Event(nil), *got...)
			mu.Unlock()
			return out
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events matching, timed out", n)
	return nil
}

func TestChain_FallbackToSecondProvider(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	mu, got := collectEvents(bus, "provider.*")

	pA := NewStubProvider("pA", StubResponse{Err: &ProviderError{Provider: "pA", Kind: ErrKindBadRequest, Status: 400}})
	pB := NewStubProvider("pB", StubResponse{Text: "ok"})

	chain := NewChain([]Provider{pA, pB}, nil, bus, fastConfig())
	result, err := chain.Generate(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, "pB", result.Provider)

	evs := waitForEvents(t, mu, got, 2)
	var sawFallback, sawSuccess bool
	for _, ev := range evs {
		switch data := ev.Data.(type) {
		case events.ProviderFallbackPayload:
			sawFallback = true
			assert.Equal(t, "pA", data.FailedProvider)
			assert.Equal(t, "pB", data.NextProvider)
		case events.ProviderSuccessPayload:
			sawSuccess = true
			assert.Equal(t, "pB", data.Provider)
		}
	}
	assert.True(t, sawFallback)
	assert.True(t, sawSuccess)
}

func TestChain_MaxTokensClamped(t *testing.T) {
	p := newCaptureProvider("pA")
	chain := NewChain([]Provider{p}, nil, nil, fastConfig())

	_, err := chain.Generate(context.Background(), "hi", Options{MaxTokens: 100000})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, p.lastOptions().MaxTokens)

	// Unset values also get the ceiling.
	_, err = chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, p.lastOptions().MaxTokens)
}

func TestChain_NonRetryableNotRetried(t *testing.T) {
	p := NewStubProvider("pA", StubResponse{Err: &ProviderError{Provider: "pA", Kind: ErrKindBadRequest, Status: 422}})
	chain := NewChain([]Provider{p}, nil, nil, fastConfig())

	_, err := chain.Generate(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeProviderUnavailable, fault.CodeOf(err))
	assert.Equal(t, int64(1), p.Calls())
}

func TestChain_RetryableRetriedThenSucceeds(t *testing.T) {
	p := NewStubProvider("pA",
		StubResponse{Err: &ProviderError{Provider: "pA", Kind: ErrKindUnavailable}},
		StubResponse{Text: "recovered"},
	)
	chain := NewChain([]Provider{p}, nil, nil, fastConfig())

	result, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, int64(2), p.Calls())
}

func TestChain_SkipsCriticalProvider(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	mu, got := collectEvents(bus, events.EventTypeProviderFallback)

	pA := NewStubProvider("pA", StubResponse{Text: "should not run"})
	pA.SetThermal(HealthCritical)
	pB := NewStubProvider("pB", StubResponse{Text: "ok"})

	chain := NewChain([]Provider{pA, pB}, nil, bus, fastConfig())
	result, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "pB", result.Provider)
	assert.Equal(t, int64(0), pA.Calls())

	evs := waitForEvents(t, mu, got, 1)
	data := evs[0].Data.(events.ProviderFallbackPayload)
	assert.Equal(t, "pA", data.FailedProvider)
	assert.Equal(t, "thermal_critical", data.Reason)
}

func TestChain_SkipsOpenCircuit(t *testing.T) {
	breakers := circuit.NewRegistry(circuit.Config{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)

	pA := NewStubProvider("pA", StubResponse{Err: &ProviderError{Provider: "pA", Kind: ErrKindBadRequest}})
	pB := NewStubProvider("pB", StubResponse{Text: "ok"})
	chain := NewChain([]Provider{pA, pB}, breakers, nil, fastConfig())

	// First invocation trips pA's breaker.
	_, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, circuit.StateOpen, breakers.Get("provider:pA").State())
	callsAfterTrip := pA.Calls()

	// Second invocation skips pA without calling it.
	result, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "pB", result.Provider)
	assert.Equal(t, callsAfterTrip, pA.Calls())
}

func TestChain_AllProvidersExhausted(t *testing.T) {
	pA := NewStubProvider("pA", StubResponse{Err: &ProviderError{Provider: "pA", Kind: ErrKindBadRequest}})
	pB := NewStubProvider("pB", StubResponse{Err: &ProviderError{Provider: "pB", Kind: ErrKindValidation}})
	chain := NewChain([]Provider{pA, pB}, nil, nil, fastConfig())

	_, err := chain.Generate(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, fault.CodeProviderUnavailable, fault.CodeOf(err))
}

func TestChain_BusyWhenAtCapacity(t *testing.T) {
	release := make(chan struct{})
	slow := &blockingProvider{name: "slow", release: release, started: make(chan struct{})}

	cfg := fastConfig()
	cfg.MaxInFlight = 1
	chain := NewChain([]Provider{slow}, nil, nil, cfg)

	firstDone := make(chan error, 1)
	go func() {
		_, err := chain.Generate(context.Background(), "hi", Options{})
		firstDone <- err
	}()
	<-slow.started

	_, err := chain.Generate(context.Background(), "hi", Options{})
	assert.Equal(t, fault.CodeBusy, fault.CodeOf(err))

	close(release)
	require.NoError(t, <-firstDone)
}

func TestChain_RateLimitGate(t *testing.T) {
	p := NewStubProvider("pA")
	chain := NewChain([]Provider{p}, nil, nil, fastConfig(), WithRateLimit(rate.Every(time.Hour), 1))

	_, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)

	_, err = chain.Generate(context.Background(), "hi", Options{})
	assert.Equal(t, fault.CodeRateLimited, fault.CodeOf(err))
	assert.Equal(t, int64(1), p.Calls())
}

func TestChain_CancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewStubProvider("pA", StubResponse{Text: "ok"})
	chain := NewChain([]Provider{p}, nil, nil, fastConfig())

	_, err := chain.Generate(ctx, "hi", Options{})
	assert.Equal(t, fault.CodeCancelled, fault.CodeOf(err))
}

func TestBackoffDelay_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(base, max, attempt)
		assert.GreaterOrEqual(t, d, base)
		// Cap plus 25% jitter headroom.
		assert.LessOrEqual(t, d, max+max/4)
	}
}

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindTimeout, true},
		{ErrKindRateLimited, true},
		{ErrKindServer, true},
		{ErrKindUnavailable, true},
		{ErrKindBadRequest, false},
		{ErrKindValidation, false},
		{ErrKindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &ProviderError{Provider: "p", Kind: tt.kind}
			assert.Equal(t, tt.want, e.Retryable())
		})
	}
}

// blockingProvider blocks Generate until released; started is closed when
// the call is in flight.
type blockingProvider struct {
	name     string
	release  chan struct{}
	started  chan struct{}
	startOne sync.Once
}

func (b *blockingProvider) Name() string { return b.name }

func (b *blockingProvider) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	b.startOne.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return &Result{Text: "late", FinishReason: "stop"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingProvider) ThermalStatus() HealthLevel { return HealthNominal }
func (b *blockingProvider) MemoryStatus() HealthLevel  { return HealthNominal }
func (b *blockingProvider) Capabilities() Capabilities { return Capabilities{} }
