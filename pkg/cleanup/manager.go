// Package cleanup owns orderly resource release and the process-level
// failure boundary. A ResourceManager collects release functions for
// shared resources (stores, breakers, the event bus, worker pools) and
// runs them exactly once in reverse registration order; the Handler
// classifies escaped errors and applies the critical-exit policy.
package cleanup

import (
	"log/slog"
	"sync"
)

// ReleaseFunc frees one resource. Implementations must be idempotent.
type ReleaseFunc func() error

type registered struct {
	name    string
	release ReleaseFunc
}

// ResourceManager tracks release functions for shared resources.
type ResourceManager struct {
	mu       sync.Mutex
	cleanups []registered
	released bool
}

// NewResourceManager creates an empty manager.
func NewResourceManager() *ResourceManager {
	return &ResourceManager{}
}

// Register adds a named release function. Registrations after release
// are rejected.
func (m *ResourceManager) Register(name string, release ReleaseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		slog.Warn("Resource registered after cleanup, ignoring", "resource", name)
		return
	}
	m.cleanups = append(m.cleanups, registered{name: name, release: release})
}

// Cleanup releases all registered resources in reverse registration
// order. Running it again is a no-op, so shutdown paths may overlap.
func (m *ResourceManager) Cleanup() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	cleanups := m.cleanups
	m.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		entry := cleanups[i]
		if err := entry.release(); err != nil {
			slog.Error("Resource release failed", "resource", entry.name, "error", err)
			continue
		}
		slog.Debug("Resource released", "resource", entry.name)
	}
}

// Released reports whether cleanup has run.
func (m *ResourceManager) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
