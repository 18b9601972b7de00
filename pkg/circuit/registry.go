package circuit

import (
	"sync"

	"github.com/praxis-platform/praxis/pkg/events"
)

// Registry hands out one breaker per resource name so all callers guarding
// the same resource share state. Owned by the runtime root and released by
// the resource manager.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	bus      *events.Bus
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry. cfg applies to every breaker the
// registry creates. bus may be nil.
func NewRegistry(cfg Config, bus *events.Bus) *Registry {
	return &Registry{
		cfg:      cfg,
		bus:      bus,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for resource, creating it on first use.
func (r *Registry) Get(resource string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[resource]; ok {
		return b
	}
	b := New(resource, r.cfg, r.bus)
	r.breakers[resource] = b
	return b
}

// ResetAll returns every breaker to CLOSED. Idempotent.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// Snapshot returns current metrics for all breakers keyed by resource.
func (r *Registry) Snapshot() map[string]Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Metrics, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Metrics()
	}
	return out
}
