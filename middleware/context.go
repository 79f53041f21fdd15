package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// TenantIDKey is the context key for the resolved tenant
	TenantIDKey contextKey = "tenant_id"

	// CallerIDKey is the context key for the caller session id
	CallerIDKey contextKey = "caller_id"

	// SessionKeyKey is the context key for the active-target partition
	SessionKeyKey contextKey = "session_key"

	// ActiveTargetKey is the context key for the selected backend connection
	ActiveTargetKey contextKey = "active_target"
)

func stringValue(ctx context.Context, key contextKey) string {
	if val := ctx.Value(key); val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTenantIDFromContext returns the caller's tenant. Empty in single-tenant mode.
func GetTenantIDFromContext(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

// WithTenantID adds a tenant id to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetCallerIDFromContext retrieves the caller session id from context
func GetCallerIDFromContext(ctx context.Context) string {
	return stringValue(ctx, CallerIDKey)
}

// WithCallerID adds a caller session id to the context
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, CallerIDKey, callerID)
}

// GetSessionKeyFromContext retrieves the active-target session key from context
func GetSessionKeyFromContext(ctx context.Context) string {
	return stringValue(ctx, SessionKeyKey)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// GetActiveTargetFromContext returns the connection id selected for this
// request, or "" when none is selected.
func GetActiveTargetFromContext(ctx context.Context) string {
	return stringValue(ctx, ActiveTargetKey)
}

// WithActiveTarget adds the selected connection id to the context
func WithActiveTarget(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ActiveTargetKey, connID)
}
