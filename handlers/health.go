package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint; overridden at build time.
var Version = "0.1.0"

// HealthResponse represents the readiness check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
}

// HealthCheck is the liveness probe; it never touches dependencies.
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessCheck fails while draining or when the audit database is unreachable.
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		checks := map[string]interface{}{}

		if deps.Draining() {
			ready = false
			checks["shutdown"] = "draining"
		}

		// Check database
		switch {
		case deps.DB == nil:
			checks["database"] = "disabled"
		default:
			if err := deps.DB.HealthCheck(ctx); err != nil {
				ready = false
				checks["database"] = "unhealthy"
				deps.Logger.Warn("database health check failed", zap.Error(err))
			} else {
				checks["database"] = "healthy"
			}
		}

		if deps.Registry != nil {
			checks["backends"] = deps.Registry.Count()
		}
		if deps.Validator != nil {
			checks["credential_cache"] = deps.Validator.Stats()
		}

		response := HealthResponse{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}
		status := http.StatusOK
		if !ready {
			response.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}

		if err := utils.WriteJSON(w, status, response); err != nil {
			deps.Logger.Error("failed to write readiness response", zap.Error(err))
		}
	}
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"version":      Version,
			"environment":  deps.Config.Environment,
			"multi_tenant": deps.Config.Auth.MultiTenant,
			"audit":        deps.AuditService != nil,
		}
		if deps.Registry != nil {
			response["backends"] = deps.Registry.Count()
		}
		_ = utils.WriteJSON(w, http.StatusOK, response)
	}
}
