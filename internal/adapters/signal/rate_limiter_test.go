package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewMessageRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("c1"), "attempt %d should pass", i+1)
	}
	assert.False(t, rl.Allow("c1"))
}

func TestRateLimiterIsPerConnection(t *testing.T) {
	rl := NewMessageRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c2"))
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl := NewMessageRateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("c1"))
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewMessageRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("c1"))
	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"))
}
