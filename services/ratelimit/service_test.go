package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRateLimitService_Disabled(t *testing.T) {
	s := NewRateLimitService(0, 0, zap.NewNop())

	for i := 0; i < 100; i++ {
		assert.True(t, s.CheckLimit("tenant:a").Allowed)
	}
	assert.False(t, s.Enabled())
	assert.Zero(t, s.Len())
}

func TestRateLimitService_BurstThenReject(t *testing.T) {
	s := NewRateLimitService(1, 3, zap.NewNop())
	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	s.now = fixedClock(now)

	for i := 0; i < 3; i++ {
		res := s.CheckLimit("tenant:a")
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := s.CheckLimit("tenant:a")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	t.Run("other scopes have their own bucket", func(t *testing.T) {
		assert.True(t, s.CheckLimit("tenant:b").Allowed)
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		s.now = fixedClock(now.Add(time.Second))
		assert.True(t, s.CheckLimit("tenant:a").Allowed)
	})
}

func TestRateLimitService_RejectedRequestDoesNotConsume(t *testing.T) {
	s := NewRateLimitService(1, 1, zap.NewNop())
	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	s.now = fixedClock(now)

	require.True(t, s.CheckLimit("k").Allowed)
	for i := 0; i < 5; i++ {
		require.False(t, s.CheckLimit("k").Allowed)
	}

	s.now = fixedClock(now.Add(time.Second))
	assert.True(t, s.CheckLimit("k").Allowed)
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "default", ScopeKey(""))
	assert.Equal(t, "tenant:acme", ScopeKey("acme"))
}

func TestRateLimitService_CleanupIdle(t *testing.T) {
	s := NewRateLimitService(5, 5, zap.NewNop())
	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	s.now = fixedClock(now)
	s.CheckLimit("old")
	s.now = fixedClock(now.Add(9 * time.Minute))
	s.CheckLimit("fresh")

	s.now = fixedClock(now.Add(10 * time.Minute))
	assert.Equal(t, 1, s.CleanupIdle(5*time.Minute))
	assert.Equal(t, 1, s.Len())
}

func TestRateLimitService_StartCleanupWorkerStops(t *testing.T) {
	s := NewRateLimitService(5, 5, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.StartCleanupWorker(ctx, time.Millisecond, time.Minute)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}
