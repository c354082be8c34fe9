package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ResourcelessTransactionManager is a TransactionManager for steps without a transactional resource,
// such as in-memory repositories and tests. Transactions only track their own lifecycle.
type ResourcelessTransactionManager struct {
	mu     sync.Mutex
	active map[string]*resourcelessTx
}

// NewResourcelessTransactionManager creates a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{active: make(map[string]*resourcelessTx)}
}

type resourcelessTx struct {
	id string
}

func (t *resourcelessTx) ID() string { return t.id }

func (t *resourcelessTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, fmt.Errorf("resourceless transaction '%s' does not support %s on '%s'", t.id, operation, tableName)
}

func (t *resourcelessTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, fmt.Errorf("resourceless transaction '%s' does not support upsert on '%s'", t.id, tableName)
}

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &resourcelessTx{id: uuid.New().String()}
	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()
	return t, nil
}

// Commit implements TransactionManager.
func (m *ResourcelessTransactionManager) Commit(t Tx) error {
	return m.complete(t)
}

// Rollback implements TransactionManager.
func (m *ResourcelessTransactionManager) Rollback(t Tx) error {
	return m.complete(t)
}

// ActiveCount returns the number of transactions begun but not yet completed.
func (m *ResourcelessTransactionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *ResourcelessTransactionManager) complete(t Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[t.ID()]; !ok {
		return fmt.Errorf("transaction '%s' is not active", t.ID())
	}
	delete(m.active, t.ID())
	return nil
}
