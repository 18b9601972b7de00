package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndGet(t *testing.T) {
	s := New(Options{MaxSize: 10})

	ok := s.Set("k1", "v1")
	require.True(t, ok)

	v, found := s.Get("k1")
	assert.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestStore_Miss(t *testing.T) {
	s := New(Options{MaxSize: 10})

	_, found := s.Get("absent")
	assert.False(t, found)
	assert.Equal(t, uint64(1), s.Metrics().Misses)
}

func TestStore_TTLExpiry(t *testing.T) {
	s := New(Options{MaxSize: 10})

	s.Set("k", "v", WithTTL(30*time.Millisecond))

	_, found := s.Get("k")
	assert.True(t, found)

	time.Sleep(40 * time.Millisecond)

	// Expired entries are absent even before any eviction runs.
	_, found = s.Get("k")
	assert.False(t, found)
	assert.False(t, s.Has("k"))
}

func TestStore_DefaultTTL(t *testing.T) {
	s := New(Options{MaxSize: 10, DefaultTTL: 30 * time.Millisecond})

	s.Set("k", "v")
	time.Sleep(40 * time.Millisecond)

	_, found := s.Get("k")
	assert.False(t, found)
}

func TestStore_SizeCapLRU(t *testing.T) {
	s := New(Options{MaxSize: 3, Policy: EvictLRU})

	s.Set("a", 1)
	s.Set("b", 2)
	s.Set("c", 3)

	// Touch a and c so b becomes least-recently-used.
	s.Get("a")
	s.Get("c")

	s.Set("d", 4)

	assert.LessOrEqual(t, s.Size(), 3)
	assert.False(t, s.Has("b"))
	assert.True(t, s.Has("a"))
	assert.True(t, s.Has("c"))
	assert.True(t, s.Has("d"))
}

func TestStore_EvictTTLPolicy(t *testing.T) {
	s := New(Options{MaxSize: 2, Policy: EvictTTL})

	s.Set("soon", 1, WithTTL(time.Second))
	s.Set("later", 2, WithTTL(time.Hour))
	s.Set("new", 3, WithTTL(time.Hour))

	// "soon" had the closest expiration.
	assert.False(t, s.Has("soon"))
	assert.True(t, s.Has("later"))
	assert.True(t, s.Has("new"))
}

func TestStore_EvictImportancePolicy(t *testing.T) {
	s := New(Options{MaxSize: 2, Policy: EvictImportance})

	s.Set("low", 1, WithImportance(0.1))
	s.Set("high", 2, WithImportance(0.9))
	s.Set("mid", 3, WithImportance(0.5))

	assert.False(t, s.Has("low"))
	assert.True(t, s.Has("high"))
	assert.True(t, s.Has("mid"))
}

func TestStore_EvictSizePolicy(t *testing.T) {
	s := New(Options{MaxSize: 100, MaxBytes: 600, Policy: EvictSize})

	big := make([]byte, 400)
	small := make([]byte, 10)

	s.Set("big", big)
	s.Set("small1", small)
	s.Set("small2", small)

	// Byte budget forces out the largest serialized value.
	assert.False(t, s.Has("big"))
	assert.True(t, s.Has("small1"))
	assert.True(t, s.Has("small2"))
}

func TestStore_SizeNeverExceedsMax(t *testing.T) {
	s := New(Options{MaxSize: 5})
	for i := 0; i < 50; i++ {
		s.Set(fmt.Sprintf("k%d", i), i)
		assert.LessOrEqual(t, s.Size(), 5)
	}
}

func TestStore_CleanupIdempotent(t *testing.T) {
	s := New(Options{MaxSize: 10})

	s.Set("a", 1, WithTTL(10*time.Millisecond))
	s.Set("b", 2, WithTTL(10*time.Millisecond))
	s.Set("keep", 3)

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, s.Cleanup())
	assert.Equal(t, 0, s.Cleanup())
	assert.True(t, s.Has("keep"))
}

func TestStore_Destroy(t *testing.T) {
	s := New(Options{MaxSize: 10})
	s.Set("k", "v")

	s.Destroy()

	assert.False(t, s.Set("k2", "v2"))
	_, found := s.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, s.Size())

	// Destroy twice is a no-op.
	s.Destroy()
}

func TestStore_Keys(t *testing.T) {
	s := New(Options{MaxSize: 10})
	s.Set("b", 1)
	s.Set("a", 2)
	s.Set("expired", 3, WithTTL(5*time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	assert.ElementsMatch(t, []string{"a", "b"}, s.Keys())
	assert.Equal(t, []string{"a", "b"}, s.SortedKeys())
}

func TestStore_MemoryEstimateMonotone(t *testing.T) {
	s := New(Options{MaxSize: 10})

	s.Set("a", "x")
	small := s.Metrics().EstimatedBytes
	s.Set("b", string(make([]byte, 1024)))
	large := s.Metrics().EstimatedBytes

	assert.Greater(t, large, small)

	s.Delete("b")
	assert.Equal(t, small, s.Metrics().EstimatedBytes)
}

func TestStore_ConcurrentMutation(t *testing.T) {
	s := New(Options{MaxSize: 64})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", n, j%16)
				s.Set(key, j, WithTTL(time.Millisecond))
				s.Get(key)
				s.Cleanup()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Size(), 64)
}
