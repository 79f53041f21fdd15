package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitService keeps one token bucket per scope in memory.
type RateLimitService struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
	logger  *zap.Logger
}

// NewRateLimitService creates a limiter allowing rps requests per second per
// scope with the given burst. rps <= 0 disables limiting.
func NewRateLimitService(rps float64, burst int, logger *zap.Logger) *RateLimitService {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &RateLimitService{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		logger:  logger,
	}
}

// Enabled reports whether limiting is active.
func (s *RateLimitService) Enabled() bool {
	return s.limit > 0
}

// CheckLimit consumes one token from scopeKey's bucket.
func (s *RateLimitService) CheckLimit(scopeKey string) RateLimitResult {
	if !s.Enabled() {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	now := s.now()

	s.mu.Lock()
	b, ok := s.buckets[scopeKey]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[scopeKey] = b
	}
	b.lastSeen = now
	s.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateLimitResult{Allowed: false, RetryAfter: delay}
	}
	return RateLimitResult{
		Allowed:   true,
		Remaining: int(b.limiter.TokensAt(now)),
	}
}

// ScopeKey buckets callers by tenant; single-tenant traffic shares one bucket.
func ScopeKey(tenantID string) string {
	if tenantID == "" {
		return "default"
	}
	return "tenant:" + tenantID
}

// CleanupIdle drops buckets unused for longer than maxIdle. A dropped bucket
// comes back full, which is what an idle bucket would hold anyway.
func (s *RateLimitService) CleanupIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle buckets until ctx is done.
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("max_idle", maxIdle))

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupIdle(maxIdle); n > 0 {
				s.logger.Debug("dropped idle rate limit buckets", zap.Int("count", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}

// Len returns the number of tracked scopes.
func (s *RateLimitService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
