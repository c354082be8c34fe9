package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	closed bool
	err    error
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestSynchronization_CallbacksAroundCommit(t *testing.T) {
	m := tx.NewSynchronizationManager()
	ctx := tx.WithSynchronizations(context.Background(), m)
	tmpl := tx.NewTemplate(tx.NewResourcelessTransactionManager(), tx.PropagationRequired, nil)
	var events []string

	err := tmpl.Execute(ctx, func(ctx context.Context, current tx.Tx) error {
		return tx.SynchronizationsFromContext(ctx).Register(tx.SynchronizationFuncs{
			OnBeforeCommit: func(ctx context.Context) error {
				events = append(events, "before")
				return nil
			},
			OnAfterCompletion: func(ctx context.Context, committed bool) {
				events = append(events, "after")
				assert.True(t, committed)
			},
		})
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, events)
}

func TestSynchronization_BeforeCommitFailureRollsBack(t *testing.T) {
	m := tx.NewSynchronizationManager()
	ctx := tx.WithSynchronizations(context.Background(), m)
	manager := tx.NewResourcelessTransactionManager()
	tmpl := tx.NewTemplate(manager, tx.PropagationRequired, nil)
	veto := errors.New("veto")
	committed := true

	err := tmpl.Execute(ctx, func(ctx context.Context, current tx.Tx) error {
		return m.Register(tx.SynchronizationFuncs{
			OnBeforeCommit:    func(ctx context.Context) error { return veto },
			OnAfterCompletion: func(ctx context.Context, c bool) { committed = c },
		})
	})

	assert.ErrorIs(t, err, veto)
	assert.False(t, committed)
	assert.Equal(t, 0, manager.ActiveCount())
}

func TestSynchronization_RequiresNewDoesNotTriggerOuterSyncs(t *testing.T) {
	m := tx.NewSynchronizationManager()
	ctx := tx.WithSynchronizations(context.Background(), m)
	manager := tx.NewResourcelessTransactionManager()
	calls := 0
	require.NoError(t, m.Register(tx.SynchronizationFuncs{
		OnAfterCompletion: func(ctx context.Context, committed bool) { calls++ },
	}))

	err := tx.NewTemplate(manager, tx.PropagationRequiresNew, nil).Execute(ctx, func(ctx context.Context, current tx.Tx) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestSynchronizationManager_ResourcesAndClear(t *testing.T) {
	m := tx.NewSynchronizationManager()
	ok := &closer{}
	failing := &closer{err: errors.New("close failed")}
	m.BindResource("ok", ok)
	m.BindResource("failing", failing)
	m.BindResource("plain", 42)

	v, found := m.Resource("plain")
	require.True(t, found)
	assert.Equal(t, 42, v)
	assert.Equal(t, 42, m.UnbindResource("plain"))

	err := m.Clear()
	assert.ErrorIs(t, err, failing.err)
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)

	assert.Error(t, m.Register(tx.SynchronizationFuncs{}))
}

func TestSynchronizationManager_NilIsInactive(t *testing.T) {
	var m *tx.SynchronizationManager
	assert.Error(t, m.Register(tx.SynchronizationFuncs{}))
	assert.NoError(t, m.Clear())
	m.Resynchronize()
	_, found := m.Resource("x")
	assert.False(t, found)
}

func TestResourcelessTransactionManager(t *testing.T) {
	m := tx.NewResourcelessTransactionManager()
	current, err := m.Begin(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, current.ID())
	assert.Equal(t, 1, m.ActiveCount())

	_, err = current.ExecuteUpdate(context.Background(), nil, "CREATE", "t", nil)
	assert.Error(t, err)

	require.NoError(t, m.Commit(current))
	assert.Error(t, m.Rollback(current))
	assert.Equal(t, 0, m.ActiveCount())
}
