package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowWithinBudget(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)

	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_RemainingConsistentWithAllow(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)

	assert.Equal(t, 2, rl.Remaining("k"))
	rl.Allow("k")
	assert.Equal(t, 1, rl.Remaining("k"))
	rl.Allow("k")
	assert.Equal(t, 0, rl.Remaining("k"))

	// A rejected attempt does not consume budget.
	rl.Allow("k")
	assert.Equal(t, 0, rl.Remaining("k"))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(40*time.Millisecond, 1)

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	time.Sleep(50 * time.Millisecond)

	assert.True(t, rl.Allow("k"))
}

func TestRateLimiter_MsUntilReset(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	assert.Equal(t, int64(0), rl.MsUntilReset("k"))

	rl.Allow("k")
	ms := rl.MsUntilReset("k")
	assert.Greater(t, ms, int64(50_000))
	assert.LessOrEqual(t, ms, int64(60_000))
}

func TestRateLimiter_IdleKeyExpires(t *testing.T) {
	rl := NewRateLimiter(30*time.Millisecond, 5)

	rl.Allow("idle")
	time.Sleep(40 * time.Millisecond)

	// A full window of inactivity forgets the key entirely.
	assert.Equal(t, int64(0), rl.MsUntilReset("idle"))
	assert.Equal(t, 5, rl.Remaining("idle"))

	rl.mu.Lock()
	_, present := rl.windows["idle"]
	rl.mu.Unlock()
	assert.False(t, present)
}

func TestRateLimiter_InvalidConfigFallsBack(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, time.Minute, rl.window)
	assert.Equal(t, 60, rl.maxRequests)
}
