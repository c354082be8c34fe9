package tx

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/hashicorp/go-multierror"
)

// Synchronization receives callbacks around the completion of the current transaction.
type Synchronization interface {
	// BeforeCommit is called before commit. An error rolls the transaction back.
	BeforeCommit(ctx context.Context) error
	// AfterCompletion is called after commit or rollback.
	AfterCompletion(ctx context.Context, committed bool)
}

// SynchronizationFuncs adapts plain functions to Synchronization. Nil fields are ignored.
type SynchronizationFuncs struct {
	OnBeforeCommit    func(ctx context.Context) error
	OnAfterCompletion func(ctx context.Context, committed bool)
}

func (s SynchronizationFuncs) BeforeCommit(ctx context.Context) error {
	if s.OnBeforeCommit == nil {
		return nil
	}
	return s.OnBeforeCommit(ctx)
}

func (s SynchronizationFuncs) AfterCompletion(ctx context.Context, committed bool) {
	if s.OnAfterCompletion != nil {
		s.OnAfterCompletion(ctx, committed)
	}
}

// SynchronizationManager holds the transaction-scoped state of one step execution:
// synchronizations registered for the current transaction, and resources bound for the lifetime of the step.
// A nil *SynchronizationManager is valid and does nothing.
type SynchronizationManager struct {
	mu        sync.Mutex
	syncs     []Synchronization
	resources map[string]interface{}
	cleared   bool
}

// NewSynchronizationManager creates an empty manager.
func NewSynchronizationManager() *SynchronizationManager {
	return &SynchronizationManager{resources: make(map[string]interface{})}
}

type syncKey struct{}

// WithSynchronizations binds the manager to ctx.
func WithSynchronizations(ctx context.Context, m *SynchronizationManager) context.Context {
	return context.WithValue(ctx, syncKey{}, m)
}

// SynchronizationsFromContext returns the manager bound to ctx, or nil.
func SynchronizationsFromContext(ctx context.Context) *SynchronizationManager {
	m, _ := ctx.Value(syncKey{}).(*SynchronizationManager)
	return m
}

// Register adds a synchronization to the current transaction.
func (m *SynchronizationManager) Register(s Synchronization) error {
	if m == nil {
		return fmt.Errorf("transaction synchronization is not active")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleared {
		return fmt.Errorf("transaction synchronization has been cleared")
	}
	m.syncs = append(m.syncs, s)
	return nil
}

// BindResource binds a resource for the lifetime of the step.
func (m *SynchronizationManager) BindResource(key string, value interface{}) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[key] = value
}

// Resource returns a bound resource.
func (m *SynchronizationManager) Resource(key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.resources[key]
	return v, ok
}

// UnbindResource removes a bound resource and returns it.
func (m *SynchronizationManager) UnbindResource(key string) interface{} {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.resources[key]
	delete(m.resources, key)
	return v
}

// Resynchronize drops synchronizations left over from a previous transaction.
// Called at the start of every chunk transaction.
func (m *SynchronizationManager) Resynchronize() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.syncs) > 0 {
		logger.Debugf("Discarding %d stale transaction synchronization(s).", len(m.syncs))
	}
	m.syncs = nil
}

// Clear releases all state. Resources implementing Close() error are closed; all close errors are returned together.
func (m *SynchronizationManager) Clear() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	resources := m.resources
	m.resources = make(map[string]interface{})
	m.syncs = nil
	m.cleared = true
	m.mu.Unlock()

	var result *multierror.Error
	for key, r := range resources {
		if c, ok := r.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing resource '%s': %w", key, err))
			}
		}
	}
	return result.ErrorOrNil()
}

func (m *SynchronizationManager) snapshot() []Synchronization {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Synchronization(nil), m.syncs...)
}

func (m *SynchronizationManager) beforeCommit(ctx context.Context) error {
	for _, s := range m.snapshot() {
		if err := s.BeforeCommit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *SynchronizationManager) afterCompletion(ctx context.Context, committed bool) {
	syncs := m.snapshot()
	if m != nil {
		m.mu.Lock()
		m.syncs = nil
		m.mu.Unlock()
	}
	for _, s := range syncs {
		s.AfterCompletion(ctx, committed)
	}
}
