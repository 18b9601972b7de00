package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/praxis-platform/praxis/pkg/circuit"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
)

// DefaultMaxTokens is the safety ceiling applied to MaxTokens when no
// explicit ceiling is configured.
const DefaultMaxTokens = 4096

// ChainConfig tunes the fallback chain. Zero values fall back to defaults.
type ChainConfig struct {
	// RetryAttempts is how many times a retryable error is retried on the
	// same provider before advancing (default 2).
	RetryAttempts int
	// BackoffBase seeds the exponential retry delay (default 200ms).
	BackoffBase time.Duration
	// BackoffMax caps the retry delay before jitter (default 5s).
	BackoffMax time.Duration
	// ProviderTimeout bounds each provider call when the caller does not
	// supply a tighter one (default 30s).
	ProviderTimeout time.Duration
	// MaxTokensCeiling clamps Options.MaxTokens (default 4096).
	MaxTokensCeiling int
	// MaxInFlight caps concurrent Generate calls across the chain; calls
	// past the cap fail fast with a busy fault (default 16).
	MaxInFlight int
}

func (c ChainConfig) withDefaults() ChainConfig {
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	} else if c.RetryAttempts == 0 {
		c.RetryAttempts = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	if c.MaxTokensCeiling <= 0 {
		c.MaxTokensCeiling = DefaultMaxTokens
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 16
	}
	return c
}

// Chain tries providers in configured order until one succeeds. Providers
// whose breaker is OPEN or whose thermal/memory status is critical are
// skipped without counting as failures. Within one invocation the chain
// makes at most one provider call at a time and never reorders providers.
type Chain struct {
	providers []Provider
	breakers  *circuit.Registry
	bus       *events.Bus
	cfg       ChainConfig
	limiter   *rate.Limiter
	inflight  chan struct{}
}

// ChainOption customizes chain construction.
type ChainOption func(*Chain)

// WithRateLimit installs a global token-bucket gate ahead of the providers.
// A rejected call fails with a rate_limited fault without invoking any
// provider.
func WithRateLimit(limit rate.Limit, burst int) ChainOption {
	return func(c *Chain) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewChain creates a fallback chain over providers in the given order.
// breakers and bus may be nil in tests.
func NewChain(providers []Provider, breakers *circuit.Registry, bus *events.Bus, cfg ChainConfig, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		breakers:  breakers,
		bus:       bus,
		cfg:       cfg.withDefaults(),
	}
	c.inflight = make(chan struct{}, c.cfg.MaxInFlight)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the configured provider order.
func (c *Chain) Providers() []Provider { return c.providers }

// Generate tries each provider in order and returns the first successful
// result. Retryable errors (timeout, rate_limited, server, unavailable) are
// retried on the same provider with exponential backoff before advancing;
// everything else advances immediately. Exhaustion fails with
// provider_unavailable.
func (c *Chain) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	select {
	case c.inflight <- struct{}{}:
		defer func() { <-c.inflight }()
	default:
		return nil, fault.New(fault.CodeBusy, "chain at capacity (%d in flight)", c.cfg.MaxInFlight)
	}

	if c.limiter != nil && !c.limiter.Allow() {
		return nil, fault.New(fault.CodeRateLimited, "chain rate limit exceeded")
	}

	if len(c.providers) == 0 {
		return nil, fault.New(fault.CodeProviderUnavailable, "no providers configured")
	}

	if opts.MaxTokens <= 0 || opts.MaxTokens > c.cfg.MaxTokensCeiling {
		opts.MaxTokens = c.cfg.MaxTokensCeiling
	}

	var lastErr error
	for i, p := range c.providers {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.CodeCancelled, ctx.Err(), "generate cancelled")
		}

		if reason, skip := c.skipReason(p); skip {
			slog.Debug("Skipping provider", "provider", p.Name(), "reason", reason)
			c.publishFallback(p.Name(), reason, c.nextName(i))
			continue
		}

		result, err := c.tryProvider(ctx, p, prompt, opts)
		if err == nil {
			c.publish(events.EventTypeProviderSuccess, events.ProviderSuccessPayload{
				Provider:  p.Name(),
				Model:     result.Model,
				LatencyMS: result.LatencyMS,
			})
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.CodeCancelled, err, "generate cancelled")
		}

		lastErr = err
		kind := classify(err)
		slog.Warn("Provider failed, advancing chain",
			"provider", p.Name(), "kind", string(kind), "error", err)
		c.publishFallback(p.Name(), string(kind), c.nextName(i))
	}

	return nil, fault.Wrap(fault.CodeProviderUnavailable, lastErr, "all %d providers exhausted", len(c.providers))
}

// skipReason reports whether a provider must be skipped without being
// called, and why.
func (c *Chain) skipReason(p Provider) (string, bool) {
	if c.breakers != nil && c.breakers.Get("provider:"+p.Name()).State() == circuit.StateOpen {
		return "circuit_open", true
	}
	if p.ThermalStatus() == HealthCritical {
		return "thermal_critical", true
	}
	if p.MemoryStatus() == HealthCritical {
		return "memory_critical", true
	}
	return "", false
}

// tryProvider calls one provider with the retry policy applied. Each
// attempt runs through the provider's breaker so failures count toward its
// threshold.
func (c *Chain) tryProvider(ctx context.Context, p Provider, prompt string, opts Options) (*Result, error) {
	perCall := c.cfg.ProviderTimeout
	if opts.Timeout > 0 && opts.Timeout < perCall {
		perCall = opts.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffMax, attempt-1)) {
				return nil, ctx.Err()
			}
		}

		result, err := c.callOnce(ctx, p, prompt, opts, perCall)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if !kindRetryable(classify(err)) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Chain) callOnce(ctx context.Context, p Provider, prompt string, opts Options, timeout time.Duration) (*Result, error) {
	op := func(ctx context.Context) (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		result, err := p.Generate(callCtx, prompt, opts)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, &ProviderError{Provider: p.Name(), Kind: ErrKindTimeout, Cause: err}
			}
			return nil, err
		}
		result.Provider = p.Name()
		if result.LatencyMS == 0 {
			result.LatencyMS = time.Since(start).Milliseconds()
		}
		return result, nil
	}

	var raw any
	var err error
	if c.breakers != nil {
		raw, err = c.breakers.Get("provider:"+p.Name()).Execute(ctx, op, nil)
	} else {
		raw, err = op(ctx)
	}
	if err != nil {
		return nil, err
	}
	result, ok := raw.(*Result)
	if !ok {
		return nil, errors.New("provider returned unexpected result type")
	}
	return result, nil
}

// nextName returns the provider after index i, or "" at the end.
func (c *Chain) nextName(i int) string {
	if i+1 < len(c.providers) {
		return c.providers[i+1].Name()
	}
	return ""
}

func (c *Chain) publishFallback(failed, reason, next string) {
	c.publish(events.EventTypeProviderFallback, events.ProviderFallbackPayload{
		FailedProvider: failed,
		Reason:         reason,
		NextProvider:   next,
	})
}

func (c *Chain) publish(eventType string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(eventType, "chain", "", payload))
}
