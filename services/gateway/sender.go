package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/command-bridge/internal/observability"
	"github.com/upb/command-bridge/services"
	"go.uber.org/zap"
)

// Sender forwards commands to registered backends.
type Sender interface {
	Send(ctx context.Context, resourceKey, tenantID string, cmd Command) (json.RawMessage, error)
	SendToConnection(ctx context.Context, connID, tenantID string, cmd Command) (json.RawMessage, error)
}

var _ Sender = (*Gate)(nil)

// Send forwards cmd to the backend registered under (tenantID, resourceKey).
func (g *Gate) Send(ctx context.Context, resourceKey, tenantID string, cmd Command) (json.RawMessage, error) {
	connID, ok := g.registry.GetConnection(resourceKey, tenantID)
	if !ok {
		return nil, services.ErrTargetNotFound.WithDetail("resource_key", resourceKey)
	}
	return g.SendToConnection(ctx, connID, tenantID, cmd)
}

// SendToConnection forwards cmd to a connection and waits for its result.
// Commands are never queued: an unregistered or foreign connection fails at once.
func (g *Gate) SendToConnection(ctx context.Context, connID, tenantID string, cmd Command) (json.RawMessage, error) {
	start := time.Now()
	result, err := g.roundTrip(ctx, connID, tenantID, cmd)

	status := "ok"
	if err != nil {
		status = services.GetErrorCode(err)
		if status == "" {
			status = "canceled"
		}
	}
	observability.CommandsTotal.WithLabelValues(cmd.Name, status).Inc()
	observability.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())

	return result, err
}

func (g *Gate) roundTrip(parent context.Context, connID, tenantID string, cmd Command) (json.RawMessage, error) {
	conn, ok := g.Connection(connID)
	if !ok || conn.TenantID != tenantID || conn.State() != StateRegistered || conn.wasEvicted() {
		return nil, services.ErrNotConnected
	}

	id := uuid.NewString()
	ch, ok := conn.addPending(id)
	if !ok {
		return nil, services.ErrNotConnected
	}
	defer conn.removePending(id)

	ctx, cancel := context.WithTimeout(parent, g.opts.CommandTimeout)
	defer cancel()

	err := conn.write(ctx, Message{Type: TypeCommand, ID: id, Command: cmd.Name, Payload: cmd.Payload})
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.ErrCommandTimeout
		}
		return nil, services.ErrNotConnected.Wrap(err)
	}

	select {
	case msg := <-ch:
		if msg.Error != "" {
			return nil, services.NewDomainError(services.ErrorTypeExternal, services.ErrBackendFailure.Code, msg.Error, nil)
		}
		return msg.Result, nil
	case <-conn.closed:
		return nil, services.ErrNotConnected
	case <-ctx.Done():
		if parent.Err() != nil {
			// Caller went away; the late result is discarded.
			return nil, parent.Err()
		}
		g.logger.Warn("backend command timed out",
			zap.String("connection_id", connID),
			zap.String("command", cmd.Name),
			zap.Duration("timeout", g.opts.CommandTimeout))
		return nil, services.ErrCommandTimeout
	}
}
