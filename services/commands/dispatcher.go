// Package commands routes caller commands to built-in target management or
// to the caller's active backend.
package commands

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/services/gateway"
	"github.com/upb/command-bridge/services/sessions"
	"github.com/upb/command-bridge/services/targets"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// Built-in command names. Anything else is forwarded to a backend.
const (
	CommandListTargets  = "list_targets"
	CommandSelectTarget = "select_target"
	CommandClearTarget  = "clear_target"
)

// Target is a registered backend as seen by one caller.
type Target struct {
	sessions.Entry
	Active bool `json:"active"`
}

// SelectRequest picks a target by resource key or connection id.
type SelectRequest struct {
	ResourceKey  string `json:"resource_key,omitempty" validate:"required_without=ConnectionID,max=256"`
	ConnectionID string `json:"connection_id,omitempty" validate:"omitempty,uuid"`
}

// ClearResult reports whether a selection existed.
type ClearResult struct {
	Cleared bool `json:"cleared"`
}

// Dispatcher executes caller commands. It expects a request context
// populated by middleware.RequestContextResolver.
type Dispatcher struct {
	registry *sessions.Registry
	targets  *targets.Store
	sender   gateway.Sender
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(registry *sessions.Registry, store *targets.Store, sender gateway.Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		targets:  store,
		sender:   sender,
		logger:   logger,
	}
}

// Execute runs the named command and returns its JSON result.
func (d *Dispatcher) Execute(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "":
		return nil, services.Invalidf("command name is required")
	case CommandListTargets:
		list, err := d.ListTargets(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(list)
	case CommandSelectTarget:
		var req SelectRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, services.Invalidf("select_target payload: %v", err)
			}
		}
		target, err := d.SelectTarget(ctx, req)
		if err != nil {
			return nil, err
		}
		return marshal(target)
	case CommandClearTarget:
		cleared, err := d.ClearTarget(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(ClearResult{Cleared: cleared})
	default:
		return d.Forward(ctx, name, payload)
	}
}

// ListTargets returns the caller tenant's registered backends.
func (d *Dispatcher) ListTargets(ctx context.Context) ([]Target, error) {
	entries, err := d.registry.ListConnections(middleware.GetTenantIDFromContext(ctx))
	if err != nil {
		return nil, err
	}

	active := middleware.GetActiveTargetFromContext(ctx)
	out := make([]Target, 0, len(entries))
	for _, e := range entries {
		out = append(out, Target{Entry: e, Active: e.ConnectionID == active})
	}
	return out, nil
}

// SelectTarget remembers a backend as the caller's active target.
func (d *Dispatcher) SelectTarget(ctx context.Context, req SelectRequest) (Target, error) {
	if err := utils.ValidateStruct(req); err != nil {
		invalid := services.ErrInvalidInput
		for field, msg := range utils.GetValidationFields(err) {
			invalid = invalid.WithDetail(field, msg)
		}
		return Target{}, invalid
	}

	sessionKey, err := sessionKeyFrom(ctx)
	if err != nil {
		return Target{}, err
	}
	tenantID := middleware.GetTenantIDFromContext(ctx)

	var entry sessions.Entry
	if req.ResourceKey != "" {
		connID, ok := d.registry.GetConnection(req.ResourceKey, tenantID)
		if !ok {
			return Target{}, services.ErrTargetNotFound.WithDetail("resource_key", req.ResourceKey)
		}
		entry = sessions.Entry{ConnectionID: connID, ResourceKey: req.ResourceKey, TenantID: tenantID}
	} else {
		key, ok := d.registry.Lookup(req.ConnectionID)
		// Connection ids of other tenants are indistinguishable from unknown ones.
		if !ok || key.TenantID != tenantID {
			return Target{}, services.ErrTargetNotFound.WithDetail("connection_id", req.ConnectionID)
		}
		entry = sessions.Entry{ConnectionID: req.ConnectionID, ResourceKey: key.ResourceKey, TenantID: tenantID}
	}

	if !d.targets.SetIfLive(sessionKey, entry.ConnectionID, d.registry.IsLive) {
		return Target{}, services.ErrTargetNotFound.WithDetail("connection_id", entry.ConnectionID)
	}
	d.logger.Info("target selected",
		zap.String("session_key", sessionKey),
		zap.String("connection_id", entry.ConnectionID),
		zap.String("resource_key", entry.ResourceKey))

	return Target{Entry: entry, Active: true}, nil
}

// ClearTarget forgets the caller's selection.
func (d *Dispatcher) ClearTarget(ctx context.Context) (bool, error) {
	sessionKey, err := sessionKeyFrom(ctx)
	if err != nil {
		return false, err
	}
	return d.targets.Clear(sessionKey), nil
}

// Forward sends a command to the caller's active target.
func (d *Dispatcher) Forward(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	active := middleware.GetActiveTargetFromContext(ctx)
	if active == "" {
		return nil, services.ErrNoActiveTarget
	}

	result, err := d.sender.SendToConnection(ctx, active, middleware.GetTenantIDFromContext(ctx),
		gateway.Command{Name: name, Payload: payload})
	if err != nil {
		d.logFailure(ctx, name, active, err)
		return nil, err
	}
	return result, nil
}

// ForwardTo sends a command to the backend registered under resourceKey,
// bypassing the active target.
func (d *Dispatcher) ForwardTo(ctx context.Context, resourceKey, name string, payload json.RawMessage) (json.RawMessage, error) {
	result, err := d.sender.Send(ctx, resourceKey, middleware.GetTenantIDFromContext(ctx),
		gateway.Command{Name: name, Payload: payload})
	if err != nil {
		d.logFailure(ctx, name, resourceKey, err)
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) logFailure(ctx context.Context, name, target string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	d.logger.Warn("command failed",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("command", name),
		zap.String("target", target),
		zap.String("reason", services.GetErrorCode(err)),
		zap.Error(err))
}

func sessionKeyFrom(ctx context.Context) (string, error) {
	key := middleware.GetSessionKeyFromContext(ctx)
	if key == "" {
		return "", services.Configurationf("request context has no session key")
	}
	return key, nil
}

func marshal(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, services.WrapInternal("failed to encode result", err)
	}
	return b, nil
}
