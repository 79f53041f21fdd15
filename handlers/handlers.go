package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/services/commands"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// CommandHandler handles POST /api/v1/commands/{name}. The body is passed to
// the command as its JSON payload and may be empty.
func CommandHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, deps.Config.Bridge.MaxMessageBytes))
		if err != nil {
			HandleValidationError(w, services.Invalidf("request body exceeds %d bytes", deps.Config.Bridge.MaxMessageBytes), deps.Logger)
			return
		}

		var payload json.RawMessage
		if len(body) > 0 {
			if !json.Valid(body) {
				_ = utils.WriteBadRequest(w, "request body must be valid JSON", nil)
				return
			}
			payload = body
		}

		result, err := deps.Dispatcher.Execute(r.Context(), name, payload)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		_ = utils.WriteOK(w, result)
	}
}

// ListTargetsHandler handles GET /api/v1/targets
func ListTargetsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Dispatcher.ListTargets(r.Context())
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		_ = utils.WriteOK(w, list)
	}
}

// SelectTargetHandler handles PUT /api/v1/targets/active
func SelectTargetHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commands.SelectRequest
		if err := utils.DecodeJSON(w, r, &req, deps.Config.Bridge.MaxMessageBytes); err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		target, err := deps.Dispatcher.SelectTarget(r.Context(), req)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		_ = utils.WriteOK(w, target)
	}
}

// ClearTargetHandler handles DELETE /api/v1/targets/active
func ClearTargetHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared, err := deps.Dispatcher.ClearTarget(r.Context())
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}
		_ = utils.WriteOK(w, commands.ClearResult{Cleared: cleared})
	}
}

// LoginURLHandler handles GET /api/v1/auth/login-url
func LoginURLHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loginURL := deps.Config.Auth.LoginURL
		if loginURL == "" {
			_ = utils.WriteError(w, http.StatusNotFound, "login_url_not_configured", "no login URL is configured", nil)
			return
		}
		_ = utils.WriteOK(w, map[string]string{"login_url": loginURL})
	}
}

// EventsHandler handles GET /api/v1/events. Only the caller tenant's
// connection events are returned, newest first.
func EventsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.ConnectionEvents == nil {
			_ = utils.WriteError(w, http.StatusNotFound, "audit_disabled", "connection audit trail is not enabled", nil)
			return
		}

		limit, err := queryInt(r, "limit", defaultEventLimit)
		if err != nil || limit <= 0 || limit > maxEventLimit {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxEventLimit), nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
			return
		}

		tenantID := middleware.GetTenantIDFromContext(r.Context())
		events, err := deps.ConnectionEvents.ListByTenant(r.Context(), tenantID, limit, offset)
		if err != nil {
			deps.Logger.Error("failed to list connection events", zap.Error(err))
			HandleServiceError(w, services.WrapInternal("failed to list connection events", err), deps.Logger)
			return
		}
		_ = utils.WriteOK(w, events)
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
