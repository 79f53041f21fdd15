package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/upb/command-bridge/internal/observability"
	"github.com/upb/command-bridge/services/ratelimit"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// RateLimitChecker defines the interface for rate limit checking
type RateLimitChecker interface {
	CheckLimit(scopeKey string) ratelimit.RateLimitResult
}

// RateLimitMiddleware throttles caller requests per tenant.
// It must run after the RequestContextResolver.
type RateLimitMiddleware struct {
	limiter RateLimitChecker
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware
func NewRateLimitMiddleware(limiter RateLimitChecker, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// Limit rejects requests over the tenant's budget with 429.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := GetTenantIDFromContext(ctx)

		result := m.limiter.CheckLimit(ratelimit.ScopeKey(tenantID))
		if !result.Allowed {
			observability.RateLimitRejectedTotal.Inc()
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))

			m.logger.Warn("rate limit exceeded",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("tenant_id", tenantID),
				zap.Duration("retry_after", result.RetryAfter))

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			_ = utils.WriteTooManyRequests(w, "", map[string]interface{}{
				"retry_after_seconds": retryAfter,
			})
			return
		}

		if result.Remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}
