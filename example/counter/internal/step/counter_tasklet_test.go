package step_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	counterstep "github.com/tigerroll/chunkflow/example/counter/internal/step"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/handler"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func TestNewCounterTasklet_BindsProperties(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": "3", "delay": "1ms"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		status, err := c.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.ExitStatusContinuable, status)
	}
	status, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompleted, status)
	assert.Equal(t, 3, c.GetStatistics()["position"])
}

func TestNewCounterTasklet_RejectsInvalidTarget(t *testing.T) {
	_, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 0})
	assert.Error(t, err)

	_, err = counterstep.NewCounterTasklet(map[string]interface{}{"target": "many"})
	assert.Error(t, err)
}

func TestNewCounterTaskletFromConfig_DefaultsTarget(t *testing.T) {
	c, err := counterstep.NewCounterTaskletFromConfig(config.NewConfig())
	require.NoError(t, err)
	require.NoError(t, c.RestoreFrom(restartAt(9)))

	status, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusCompleted, status)
}

func TestCounterTasklet_GlitchIsRegistered(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 5, "fail_every": 1})
	require.NoError(t, err)

	_, err = c.Execute(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, counterstep.ErrCounterGlitch))
	assert.True(t, exception.IsErrorOfType(err, "ErrCounterGlitch"))
}

func TestCounterTasklet_RestoreFrom(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 5})
	require.NoError(t, err)

	require.NoError(t, c.RestoreFrom(restartAt(3)))
	assert.Equal(t, 3, c.GetRestartData()["position"])
	assert.Error(t, c.RestoreFrom(model.NewExecutionContext()))
}

func TestCounterTasklet_StopsOnCancelledContextDuringDelay(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 5, "delay": "1h"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Execute(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCounterTasklet_InStepRecoversAndSkipsGlitches(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 10, "fail_every": 4})
	require.NoError(t, err)
	repo := inmemory.NewInMemoryJobRepository()
	step := tasklet.NewTaskletStep("counter", counterstep.StepName, c, repo, tx.NewResourcelessTransactionManager(),
		tasklet.WithCommitInterval(3),
		tasklet.WithChunkExceptionHandler(handler.NewSimpleLimitExceptionHandler(3, "ErrCounterGlitch")),
	)
	se := model.NewStepExecution(model.NewStepInstance("counter", counterstep.StepName))

	require.NoError(t, step.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, []int{4, 8}, c.Recovered())
	assert.Equal(t, map[string]interface{}{"position": 10, "skipped": 2}, c.GetStatistics())
}

func TestCounterTasklet_InStepFailsWithoutExceptionHandler(t *testing.T) {
	c, err := counterstep.NewCounterTasklet(map[string]interface{}{"target": 10, "fail_every": 4})
	require.NoError(t, err)
	step := tasklet.NewTaskletStep("counter", counterstep.StepName, c, inmemory.NewInMemoryJobRepository(),
		tx.NewResourcelessTransactionManager(), tasklet.WithCommitInterval(3))
	se := model.NewStepExecution(model.NewStepInstance("counter", counterstep.StepName))

	assert.Error(t, step.Execute(context.Background(), se))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
}

func restartAt(position int) model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put("position", position)
	return ec
}
