package repositories

import (
	"context"

	"github.com/upb/command-bridge/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// ConnectionEventRepository persists the backend connection audit trail
type ConnectionEventRepository interface {
	// Insert inserts one event
	Insert(ctx context.Context, event *models.ConnectionEvent) error

	// InsertBatch inserts several events in one transaction
	InsertBatch(ctx context.Context, events []*models.ConnectionEvent) error

	// ListByTenant returns a tenant's events, newest first
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*models.ConnectionEvent, error)

	// ListByConnection returns every event for one connection, oldest first
	ListByConnection(ctx context.Context, connectionID string) ([]*models.ConnectionEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	ConnectionEvents ConnectionEventRepository
}
