package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/command-bridge/services/ratelimit"
	"go.uber.org/zap"
)

// MockRateLimiter is a mock implementation of RateLimitChecker
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckLimit(scopeKey string) ratelimit.RateLimitResult {
	args := m.Called(scopeKey)
	return args.Get(0).(ratelimit.RateLimitResult)
}

func TestRateLimitMiddleware_Limit(t *testing.T) {
	t.Run("allowed request reaches handler", func(t *testing.T) {
		limiter := new(MockRateLimiter)
		limiter.On("CheckLimit", "tenant:acme").Return(ratelimit.RateLimitResult{Allowed: true, Remaining: 4})

		var called bool
		h := NewRateLimitMiddleware(limiter, zap.NewNop()).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithTenantID(req.Context(), "acme"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.True(t, called)
		assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
		limiter.AssertExpectations(t)
	})

	t.Run("rejected request gets 429", func(t *testing.T) {
		limiter := new(MockRateLimiter)
		limiter.On("CheckLimit", "default").Return(ratelimit.RateLimitResult{Allowed: false, RetryAfter: 1500 * time.Millisecond})

		var called bool
		h := NewRateLimitMiddleware(limiter, zap.NewNop()).Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
	})
}
