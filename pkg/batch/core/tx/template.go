package tx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/hashicorp/go-multierror"
)

// Propagation controls how Template.Execute relates to a transaction already bound to the context.
type Propagation string

const (
	// PropagationRequired joins the transaction found in the context, or begins a new one.
	PropagationRequired Propagation = "REQUIRED"
	// PropagationRequiresNew always begins a new, independent transaction.
	// The enclosing transaction, if any, is left untouched and is not visible to the callback.
	PropagationRequiresNew Propagation = "REQUIRES_NEW"
)

// ParsePropagation converts a configuration string into a Propagation. Empty means REQUIRED.
func ParsePropagation(s string) (Propagation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(PropagationRequired):
		return PropagationRequired, nil
	case string(PropagationRequiresNew):
		return PropagationRequiresNew, nil
	default:
		return "", fmt.Errorf("unsupported transaction propagation: %s", s)
	}
}

// ParseIsolationLevel converts a string isolation level name to sql.IsolationLevel.
func ParseIsolationLevel(level string) sql.IsolationLevel {
	switch strings.ToUpper(level) {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Template runs a callback inside a transaction, committing when it returns nil and rolling back otherwise.
type Template struct {
	manager     TransactionManager
	propagation Propagation
	options     *sql.TxOptions
}

// NewTemplate creates a Template.
func NewTemplate(manager TransactionManager, propagation Propagation, options *sql.TxOptions) *Template {
	if propagation == "" {
		propagation = PropagationRequired
	}
	return &Template{manager: manager, propagation: propagation, options: options}
}

// Execute runs fn in a transaction according to the template's propagation.
//
// When fn returns an error the transaction is rolled back and that same error is returned;
// a rollback failure is attached behind it. A panic in fn rolls back and re-panics.
func (t *Template) Execute(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if existing, ok := FromContext(ctx); ok && t.propagation == PropagationRequired {
		logger.Debugf("Propagation REQUIRED: joining existing transaction '%s'.", existing.ID())
		return fn(ctx, existing)
	}

	var opts []*sql.TxOptions
	if t.options != nil {
		opts = append(opts, t.options)
	}
	current, err := t.manager.Begin(ctx, opts...)
	if err != nil {
		return exception.NewBatchError("tx", "failed to begin transaction", err, false, false)
	}
	logger.Debugf("Propagation %s: began transaction '%s'.", t.propagation, current.ID())

	syncs := SynchronizationsFromContext(ctx)
	if t.propagation == PropagationRequiresNew {
		// Synchronizations belong to the enclosing transaction.
		syncs = nil
	}
	txCtx := WithTx(ctx, current)

	defer func() {
		if p := recover(); p != nil {
			if rbErr := t.manager.Rollback(current); rbErr != nil {
				logger.Errorf("Rollback after panic failed for transaction '%s': %v", current.ID(), rbErr)
			}
			syncs.afterCompletion(txCtx, false)
			panic(p)
		}
	}()

	if err = fn(txCtx, current); err != nil {
		if rbErr := t.manager.Rollback(current); rbErr != nil {
			logger.Errorf("Rollback failed for transaction '%s': %v", current.ID(), rbErr)
			err = multierror.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		syncs.afterCompletion(txCtx, false)
		return err
	}

	if err = syncs.beforeCommit(txCtx); err != nil {
		if rbErr := t.manager.Rollback(current); rbErr != nil {
			err = multierror.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		syncs.afterCompletion(txCtx, false)
		return err
	}
	if err = t.manager.Commit(current); err != nil {
		syncs.afterCompletion(txCtx, false)
		return exception.NewBatchError("tx", fmt.Sprintf("failed to commit transaction '%s'", current.ID()), err, false, false)
	}
	syncs.afterCompletion(txCtx, true)
	return nil
}
