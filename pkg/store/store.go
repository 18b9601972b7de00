// Package store provides bounded in-memory key/value stores with TTL and
// size-capped eviction, plus a per-key sliding-window rate limiter. Stores
// are shared infrastructure: every boundary component (tool mapper cache,
// dispatch decision cache, provider gating) keeps its transient state here.
package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// EvictionPolicy selects which entry is removed when the store overflows.
type EvictionPolicy string

const (
	// EvictLRU removes the least-recently-used entry.
	EvictLRU EvictionPolicy = "lru"
	// EvictTTL removes the entry closest to expiration.
	EvictTTL EvictionPolicy = "ttl"
	// EvictImportance removes the entry with the lowest importance,
	// breaking ties by insertion time (oldest first).
	EvictImportance EvictionPolicy = "importance"
	// EvictSize removes the largest serialized entries until the byte
	// budget is met.
	EvictSize EvictionPolicy = "size"
)

// Options configures a bounded store. Zero values fall back to defaults.
type Options struct {
	MaxSize    int            // maximum entry count (default 1000)
	MaxBytes   int64          // byte budget, only enforced by EvictSize (default 4 MiB)
	DefaultTTL time.Duration  // applied when Set is called without a TTL (0 = no expiry)
	Policy     EvictionPolicy // default EvictLRU
}

// Metrics is a point-in-time snapshot of store counters.
type Metrics struct {
	Size           int
	EstimatedBytes int64
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	Expirations    uint64
}

type entry struct {
	value      any
	importance float64
	sizeBytes  int64
	insertedAt time.Time
	lastAccess time.Time
	expiresAt  time.Time // zero = never expires
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a TTL + size-capped key/value store. All operations are safe for
// concurrent use. A destroyed store rejects writes and reads as absent.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	opts      Options
	bytes     int64
	destroyed bool

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// New creates a bounded store with the given options.
func New(opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 4 << 20
	}
	if opts.Policy == "" {
		opts.Policy = EvictLRU
	}
	return &Store{
		entries: make(map[string]*entry),
		opts:    opts,
	}
}

// SetOption customizes a single Set call.
type SetOption func(*entry)

// WithTTL overrides the store's default TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(e *entry) {
		if ttl > 0 {
			e.expiresAt = e.insertedAt.Add(ttl)
		}
	}
}

// WithImportance tags the entry for the importance eviction policy.
// Higher values survive longer.
func WithImportance(importance float64) SetOption {
	return func(e *entry) { e.importance = importance }
}

// Set stores a value, evicting per policy if the store overflows.
// Returns false when the store has been destroyed.
func (s *Store) Set(key string, value any, opts ...SetOption) bool {
	now := time.Now()
	e := &entry{
		value:      value,
		sizeBytes:  estimateBytes(key, value),
		insertedAt: now,
		lastAccess: now,
	}
	if s.opts.DefaultTTL > 0 {
		e.expiresAt = now.Add(s.opts.DefaultTTL)
	}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}

	if old, ok := s.entries[key]; ok {
		s.bytes -= old.sizeBytes
	}
	s.entries[key] = e
	s.bytes += e.sizeBytes

	s.evictLocked(now)
	return true
}

// Get returns the value for key. Expired entries are absent even before
// eviction; they are removed lazily here, no background goroutine required.
func (s *Store) Get(key string) (any, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, false
	}
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	if e.expired(now) {
		s.removeLocked(key, e)
		s.expirations++
		s.misses++
		return nil, false
	}
	e.lastAccess = now
	s.hits++
	return e.value, true
}

// Has reports whether key is present and unexpired without touching
// recency state.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return false
	}
	e, ok := s.entries[key]
	return ok && !e.expired(time.Now())
}

// Delete removes key. Reports whether an entry was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(key, e)
	return true
}

// Keys returns the unexpired keys in unspecified order.
func (s *Store) Keys() []string {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Size returns the number of entries, including not-yet-collected expired
// ones. Always ≤ MaxSize.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cleanup removes all expired entries. Idempotent: a second call with no
// intervening mutation removes nothing.
func (s *Store) Cleanup() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(k, e)
			s.expirations++
			removed++
		}
	}
	return removed
}

// Metrics returns a snapshot of the store counters.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Metrics{
		Size:           len(s.entries),
		EstimatedBytes: s.bytes,
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		Expirations:    s.expirations,
	}
}

// Destroy empties the store and rejects all further writes. Reads on a
// destroyed store return absent. Safe to call multiple times.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.entries = make(map[string]*entry)
	s.bytes = 0
}

func (s *Store) removeLocked(key string, e *entry) {
	delete(s.entries, key)
	s.bytes -= e.sizeBytes
}

// evictLocked enforces the entry-count cap (all policies) and the byte
// budget (EvictSize). Expired entries go first regardless of policy.
func (s *Store) evictLocked(now time.Time) {
	if len(s.entries) <= s.opts.MaxSize && (s.opts.Policy != EvictSize || s.bytes <= s.opts.MaxBytes) {
		return
	}

	for k, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(k, e)
			s.expirations++
		}
	}

	for len(s.entries) > s.opts.MaxSize || (s.opts.Policy == EvictSize && s.bytes > s.opts.MaxBytes) {
		victim := s.pickVictimLocked()
		if victim == "" {
			return
		}
		s.removeLocked(victim, s.entries[victim])
		s.evictions++
	}
}

func (s *Store) pickVictimLocked() string {
	var victim string
	var victimEntry *entry
	for k, e := range s.entries {
		if victimEntry == nil || s.worse(e, victimEntry) {
			victim, victimEntry = k, e
		}
	}
	return victim
}

// worse reports whether a is a better eviction victim than b under the
// configured policy.
func (s *Store) worse(a, b *entry) bool {
	switch s.opts.Policy {
	case EvictTTL:
		// No expiry sorts last: entries that never expire are kept over
		// expiring ones.
		if a.expiresAt.IsZero() {
			return false
		}
		if b.expiresAt.IsZero() {
			return true
		}
		return a.expiresAt.Before(b.expiresAt)
	case EvictImportance:
		if a.importance != b.importance {
			return a.importance < b.importance
		}
		return a.insertedAt.Before(b.insertedAt)
	case EvictSize:
		return a.sizeBytes > b.sizeBytes
	default: // EvictLRU
		return a.lastAccess.Before(b.lastAccess)
	}
}

// estimateBytes approximates the serialized footprint of an entry. The
// estimate only needs to be monotone in value size, not exact.
func estimateBytes(key string, value any) int64 {
	size := int64(len(key)) + 48 // map/entry overhead
	switch v := value.(type) {
	case string:
		size += int64(len(v))
	case []byte:
		size += int64(len(v))
	default:
		if data, err := json.Marshal(v); err == nil {
			size += int64(len(data))
		} else {
			size += 64
		}
	}
	return size
}

// SortedKeys returns unexpired keys in lexical order. Used by callers that
// need deterministic iteration (audit claims, tests).
func (s *Store) SortedKeys() []string {
	keys := s.Keys()
	sort.Strings(keys)
	return keys
}
