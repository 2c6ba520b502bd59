package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenBlocked(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("doctor-1"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("doctor-1"))
}

func TestRateLimiter_DefaultBurst(t *testing.T) {
	rl := NewRateLimiter(2, 0)
	defer rl.Close()

	// zero burst falls back to the per-minute limit
	assert.True(t, rl.Allow("nurse-1"))
	assert.True(t, rl.Allow("nurse-1"))
	assert.False(t, rl.Allow("nurse-1"))
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	assert.NotPanics(t, func() {
		rl.Close()
		rl.Close()
	})

	// a closed limiter still answers Allow; only the sweep is stopped
	assert.True(t, rl.Allow("doctor-1"))
}
