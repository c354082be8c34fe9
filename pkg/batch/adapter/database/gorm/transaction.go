package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTx implements tx.Tx on a GORM transaction.
type GormTx struct {
	id       string
	connName string
	db       *gorm.DB
}

// ID implements tx.Tx.
func (t *GormTx) ID() string { return t.id }

// DB returns the transaction's *gorm.DB, for tasklets writing their own tables.
func (t *GormTx) DB() *gorm.DB { return t.db }

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

// GormTransactionManager implements tx.TransactionManager on a named connection.
// The connection is resolved at every Begin so that a dropped pool is reconnected.
type GormTransactionManager struct {
	resolver database.DBConnectionResolver
	dbName   string
}

// NewGormTransactionManager creates a transaction manager for the connection named dbName.
func NewGormTransactionManager(resolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{resolver: resolver, dbName: dbName}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.resolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	gc, ok := conn.(*GormDBConnection)
	if !ok {
		return nil, fmt.Errorf("connection '%s' is %T, expected *GormDBConnection", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}
	// The transaction must outlive cancellation of ctx so that Rollback still reaches the database.
	gormTx := gc.db.WithContext(context.WithoutCancel(ctx)).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTx{id: uuid.New().String(), connName: gc.name, db: gormTx}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gt, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTx, got %T", t)
	}
	return gt.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gt, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTx, got %T", t)
	}
	return gt.db.Rollback().Error
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)
