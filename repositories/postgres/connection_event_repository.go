package postgres

import (
	"context"
	"fmt"

	"github.com/upb/command-bridge/models"
	"github.com/upb/command-bridge/repositories"
	"go.uber.org/zap"
)

const connectionEventColumns = `id, connection_id, tenant_id, resource_key, event_type, reason, remote_addr, details, timestamp`

// ConnectionEventRepository implements repositories.ConnectionEventRepository
type ConnectionEventRepository struct {
	db     *DB
	tx     *TxManager
	logger *zap.Logger
}

// NewConnectionEventRepository creates a new connection event repository
func NewConnectionEventRepository(db *DB, logger *zap.Logger) *ConnectionEventRepository {
	return &ConnectionEventRepository{
		db:     db,
		tx:     NewTxManager(db, logger),
		logger: logger,
	}
}

// Insert inserts one event
func (r *ConnectionEventRepository) Insert(ctx context.Context, event *models.ConnectionEvent) error {
	query := `INSERT INTO connection_events (` + connectionEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var details interface{}
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		event.ID,
		event.ConnectionID,
		event.TenantID,
		event.ResourceKey,
		event.EventType,
		event.Reason,
		event.RemoteAddr,
		details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection event: %w", err)
	}
	return nil
}

// InsertBatch inserts events atomically
func (r *ConnectionEventRepository) InsertBatch(ctx context.Context, events []*models.ConnectionEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		for _, event := range events {
			if err := r.Insert(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByTenant returns a tenant's events, newest first. An empty tenant
// selects the single-tenant events, which are stored with a NULL tenant.
func (r *ConnectionEventRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.ConnectionEvent, error) {
	query := `SELECT ` + connectionEventColumns + ` FROM connection_events
		WHERE tenant_id IS NOT DISTINCT FROM $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	var tenant interface{}
	if tenantID != "" {
		tenant = tenantID
	}
	return r.query(ctx, query, tenant, limit, offset)
}

// ListByConnection returns every event for one connection, oldest first
func (r *ConnectionEventRepository) ListByConnection(ctx context.Context, connectionID string) ([]*models.ConnectionEvent, error) {
	query := `SELECT ` + connectionEventColumns + ` FROM connection_events
		WHERE connection_id = $1
		ORDER BY timestamp ASC`
	return r.query(ctx, query, connectionID)
}

func (r *ConnectionEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.ConnectionEvent, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection events: %w", err)
	}
	defer rows.Close()

	var events []*models.ConnectionEvent
	for rows.Next() {
		event := &models.ConnectionEvent{}
		var details []byte
		if err := rows.Scan(
			&event.ID,
			&event.ConnectionID,
			&event.TenantID,
			&event.ResourceKey,
			&event.EventType,
			&event.Reason,
			&event.RemoteAddr,
			&details,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		event.Details = details
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connection events: %w", err)
	}
	return events, nil
}
