package sql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/chunkflow/pkg/batch/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepository(t *testing.T) (*sqlrepo.SQLJobRepository, *gormadapter.GormTransactionManager, *gormadapter.GormDBConnection) {
	resolver, conn := testutil.NewSQLiteMetadataDB(t)
	return sqlrepo.NewSQLJobRepository(resolver, testutil.MetadataDBName),
		gormadapter.NewGormTransactionManager(resolver, testutil.MetadataDBName),
		conn
}

func TestMigrate_IsIdempotent(t *testing.T) {
	_, _, conn := newSQLiteRepository(t)

	require.NoError(t, sqlrepo.Migrate(context.Background(), conn))
	count, err := conn.Count(context.Background(), &sqlrepo.StepInstanceEntity{}, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteJobRepository_StepInstanceLifecycle(t *testing.T) {
	repo, _, _ := newSQLiteRepository(t)
	ctx := context.Background()

	_, err := repo.FindStepInstance(ctx, "nightly", "counter")
	assert.ErrorIs(t, err, repository.ErrStepInstanceNotFound)

	instance := testutil.NewTestStepInstance("nightly", "counter", nil)
	require.NoError(t, repo.CreateStepInstance(ctx, instance))
	assert.Error(t, repo.CreateStepInstance(ctx, model.NewStepInstance("nightly", "counter")), "job and step are unique")

	instance.RestartData.Put("position", 42)
	instance.ExecutionCount = 1
	instance.Status = model.BatchStatusStarted
	require.NoError(t, repo.UpdateStepInstance(ctx, instance))
	assert.Equal(t, 1, instance.Version)

	found, err := repo.FindStepInstance(ctx, "nightly", "counter")
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)
	assert.Equal(t, 1, found.ExecutionCount)
	assert.Equal(t, model.BatchStatusStarted, found.Status)
	position, ok := found.RestartData.GetInt("position")
	assert.True(t, ok)
	assert.Equal(t, 42, position)

	stale := found.Copy()
	stale.Version = 0
	err = repo.UpdateStepInstance(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 0, stale.Version, "a failed update keeps the version")
}

func TestSQLiteJobRepository_StepExecutionLifecycle(t *testing.T) {
	repo, _, _ := newSQLiteRepository(t)
	ctx := context.Background()
	instance := testutil.NewTestStepInstance("nightly", "counter", nil)
	require.NoError(t, repo.CreateStepInstance(ctx, instance))

	first := testutil.NewTestStepExecution(instance)
	first.StartTime = time.Now().Add(-time.Minute)
	require.NoError(t, repo.SaveOrUpdateStepExecution(ctx, first))
	assert.Equal(t, 0, first.Version, "inserts keep the initial version")

	first.Apply(contributionOf(3))
	first.MarkAsFailed(model.ExitStatusFailed.WithDescription("boom"), errors.New("boom"))
	require.NoError(t, repo.SaveOrUpdateStepExecution(ctx, first))
	assert.Equal(t, 1, first.Version)

	second := testutil.NewTestStepExecution(instance)
	require.NoError(t, repo.SaveOrUpdateStepExecution(ctx, second))

	loaded, err := repo.FindStepExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, loaded.Status)
	assert.Equal(t, model.ExitCodeFailed, loaded.ExitStatus.ExitCode)
	assert.Equal(t, "boom", loaded.ExitStatus.ExitDescription)
	assert.False(t, loaded.ExitStatus.Continuable)
	assert.Equal(t, model.FailureList{"boom"}, loaded.Failures)
	assert.Equal(t, 3, loaded.TaskCount)
	assert.Equal(t, 1, loaded.CommitCount)
	require.NotNil(t, loaded.EndTime)

	history, err := repo.FindStepExecutionsByStepInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)

	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)

	first.Version = 0
	err = repo.SaveOrUpdateStepExecution(ctx, first)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestSQLiteJobRepository_WritesFollowTheChunkTransaction(t *testing.T) {
	repo, manager, _ := newSQLiteRepository(t)
	ctx := context.Background()
	instance := testutil.NewTestStepInstance("nightly", "counter", nil)
	require.NoError(t, repo.CreateStepInstance(ctx, instance))

	template := tx.NewTemplate(manager, tx.PropagationRequired, nil)
	boom := errors.New("chunk failed")
	err := template.Execute(ctx, func(txCtx context.Context, _ tx.Tx) error {
		instance.RestartData.Put("position", 5)
		if err := repo.UpdateStepInstance(txCtx, instance); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := repo.FindStepInstance(ctx, "nightly", "counter")
	require.NoError(t, err)
	_, ok := found.RestartData.Get("position")
	assert.False(t, ok, "restart data rolled back with the chunk")
	assert.Equal(t, 0, found.Version)

	instance.Version = found.Version
	require.NoError(t, template.Execute(ctx, func(txCtx context.Context, _ tx.Tx) error {
		return repo.UpdateStepInstance(txCtx, instance)
	}))
	found, err = repo.FindStepInstance(ctx, "nightly", "counter")
	require.NoError(t, err)
	position, _ := found.RestartData.GetInt("position")
	assert.Equal(t, 5, position)
}

func TestSQLiteJobRepository_MissingTables(t *testing.T) {
	repo, _, conn := newSQLiteRepository(t)
	require.NoError(t, conn.GormDB().Exec("DROP TABLE chunkflow_step_instance").Error)

	_, err := repo.FindStepInstance(context.Background(), "nightly", "counter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate_on_start")
}

func contributionOf(tasks int) *model.Contribution {
	c := model.NewContribution()
	for i := 0; i < tasks; i++ {
		c.IncrementTaskCount()
	}
	return c
}
