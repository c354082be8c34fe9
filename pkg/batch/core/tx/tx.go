// Package tx provides the transaction abstraction used by the step execution loop.
// Each chunk runs inside one transaction; fault-tolerant recovery runs in a separate, independent one.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor defines common write operations executable within a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs a write operation ("CREATE", "UPDATE", "DELETE") on the specified model.
	// query holds column/value conditions for UPDATE and DELETE, combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, updating updateColumns when conflictColumns collide.
	// With no updateColumns a conflict is treated as DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx represents an ongoing transaction.
type Tx interface {
	TxExecutor

	// ID identifies the transaction in logs and traces.
	ID() string
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new, independent transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit persists all changes made within the transaction.
	Commit(tx Tx) error
	// Rollback undoes all changes made within the transaction.
	Rollback(tx Tx) error
}

type txKey struct{}

// WithTx returns a child context carrying the transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction bound to ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
