package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/services/credentials"
	"github.com/upb/command-bridge/services/sessions"
	"github.com/upb/command-bridge/services/targets"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

const (
	// CallerIDHeader identifies a caller session on plain HTTP requests.
	CallerIDHeader = "X-Caller-ID"
	// MCPSessionHeader is assigned by the MCP transport and doubles as the caller id.
	MCPSessionHeader = "Mcp-Session-Id"
	// APIKeyHeader is accepted as an alternative to a bearer token.
	APIKeyHeader = "X-API-Key"

	autoSelectAttempts = 3
)

// RequestContextResolver authenticates caller requests and attaches the
// tenant, session key and active target to the request context.
// It reads the session registry but never mutates it.
type RequestContextResolver struct {
	multiTenant bool
	validator   credentials.Checker
	registry    *sessions.Registry
	targets     *targets.Store
	loginURL    string
	logger      *zap.Logger
}

// NewRequestContextResolver creates a resolver. loginURL is advertised on 401 responses.
func NewRequestContextResolver(
	multiTenant bool,
	validator credentials.Checker,
	registry *sessions.Registry,
	store *targets.Store,
	loginURL string,
	logger *zap.Logger,
) *RequestContextResolver {
	return &RequestContextResolver{
		multiTenant: multiTenant,
		validator:   validator,
		registry:    registry,
		targets:     store,
		loginURL:    loginURL,
		logger:      logger,
	}
}

// Resolve authenticates token and returns ctx enriched with the caller's
// tenant, session key and active target.
func (m *RequestContextResolver) Resolve(ctx context.Context, token, callerID string) (context.Context, error) {
	tenantID, err := credentials.ResolveTenant(ctx, m.validator, m.multiTenant, token)
	if err != nil {
		return ctx, err
	}

	sessionKey := targets.SessionKey(tenantID, callerID)

	ctx = WithTenantID(ctx, tenantID)
	ctx = WithCallerID(ctx, callerID)
	ctx = WithSessionKey(ctx, sessionKey)
	if active := m.activeTarget(sessionKey); active != "" {
		ctx = WithActiveTarget(ctx, active)
	}
	return ctx, nil
}

// activeTarget returns the remembered selection. Without one, single-tenant
// mode auto-selects the only registered backend and remembers it.
func (m *RequestContextResolver) activeTarget(sessionKey string) string {
	if connID, ok := m.targets.Get(sessionKey); ok {
		return connID
	}
	if m.multiTenant {
		return ""
	}
	// The sole backend may disconnect between Sole and SetIfLive; look again.
	for attempt := 0; attempt < autoSelectAttempts; attempt++ {
		entry, ok := m.registry.Sole()
		if !ok {
			return ""
		}
		if !m.targets.SetIfLive(sessionKey, entry.ConnectionID, m.registry.IsLive) {
			continue
		}
		m.logger.Debug("auto-selected sole backend",
			zap.String("session_key", sessionKey),
			zap.String("connection_id", entry.ConnectionID),
			zap.String("resource_key", entry.ResourceKey))
		return entry.ConnectionID
	}
	return ""
}

// Middleware resolves every request before the handler runs. Authentication
// failures abort the request.
func (m *RequestContextResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimw.GetReqID(ctx)
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}

		ctx, err := m.Resolve(ctx, ExtractToken(r), CallerID(r))
		if err != nil {
			m.logger.Warn("caller authentication failed",
				zap.String("request_id", requestID),
				zap.String("reason", services.GetErrorCode(err)))
			m.writeAuthError(w, err)
			return
		}

		m.logger.Debug("caller resolved",
			zap.String("request_id", requestID),
			zap.String("tenant_id", GetTenantIDFromContext(ctx)),
			zap.String("session_key", GetSessionKeyFromContext(ctx)),
			zap.String("active_target", GetActiveTargetFromContext(ctx)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *RequestContextResolver) writeAuthError(w http.ResponseWriter, err error) {
	code := services.GetErrorCode(err)
	msg := services.GetErrorMessage(err)

	if services.IsUnavailableError(err) {
		_ = utils.WriteServiceUnavailable(w, code, msg, time.Second)
		return
	}

	var details map[string]interface{}
	if m.loginURL != "" {
		details = map[string]interface{}{"login_url": m.loginURL}
	}
	_ = utils.WriteUnauthorized(w, code, msg, details)
}

// ExtractToken returns the bearer token from Authorization or X-API-Key.
// Authorization takes precedence when both are present.
func ExtractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// CallerID returns the caller session id, preferring the MCP session header.
func CallerID(r *http.Request) string {
	if id := r.Header.Get(MCPSessionHeader); id != "" {
		return id
	}
	return r.Header.Get(CallerIDHeader)
}
