package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/command-bridge/repositories"
	"go.uber.org/zap"
)

type txKey struct{}

// TxManager runs repository calls inside one sql.Tx carried on the context.
type TxManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTxManager creates a transaction manager for db
func NewTxManager(db *DB, logger *zap.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

// Begin starts a new transaction
func (m *TxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &tx{sqlTx: sqlTx, ctx: ctx}, nil
}

// InTransaction commits when fn succeeds and rolls back otherwise.
func (m *TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, t repositories.Transaction) error) error {
	t, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, t), t); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			m.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err))
		}
		return err
	}

	return t.Commit()
}

type tx struct {
	sqlTx *sql.Tx
	ctx   context.Context
}

func (t *tx) Commit() error {
	if err := t.sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (t *tx) Context() context.Context {
	return t.ctx
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the transaction on ctx if any, else the pool.
func GetExecutor(ctx context.Context, db *DB) Executor {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return t.sqlTx
	}
	return db.DB
}
