package tasklet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/handler"
)

func newFactory(t *testing.T, cfg *config.Config, registry *tasklet.ListenerRegistry) *tasklet.StepFactory {
	t.Helper()
	lc := fxtest.NewLifecycle(t)
	executor, err := tasklet.NewTaskExecutor(lc, cfg)
	require.NoError(t, err)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)
	return tasklet.NewStepFactory(tasklet.StepFactoryParams{
		Config:         cfg,
		JobRepository:  inmemory.NewInMemoryJobRepository(),
		TxManager:      tx.NewResourcelessTransactionManager(),
		Executor:       executor,
		Listeners:      registry,
		MetricRecorder: metrics.NewNoOpMetricRecorder(),
		Tracer:         metrics.NewNoOpTracer(),
	})
}

func TestStepFactory_UsesConfiguredCommitInterval(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.CommitInterval = 2
	step, err := newFactory(t, cfg, nil).CreateTaskletStep("job", "step", newCountingTasklet(6))
	require.NoError(t, err)
	se := newExecution()

	require.NoError(t, step.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, 6, se.TaskCount)
}

func TestStepFactory_WorkerPoolExecutor(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.TaskExecutor = config.TaskExecutorWorkerPool
	cfg.Chunkflow.Batch.WorkerPoolSize = 2
	cfg.Chunkflow.Batch.ThrottleLimit = 2
	cfg.Chunkflow.Batch.CommitInterval = 4
	step, err := newFactory(t, cfg, nil).CreateTaskletStep("job", "step", newCountingTasklet(8))
	require.NoError(t, err)
	se := newExecution()

	require.NoError(t, step.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.GreaterOrEqual(t, se.TaskCount, 8)
}

func TestStepFactory_AttachesRegisteredListeners(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.Listeners = []string{"recording"}
	listener := &recordingStepListener{}
	var builtFor string
	registry := tasklet.NewListenerRegistry()
	registry.Register("recording", func(_ *config.Config, stepName string) ([]interface{}, error) {
		builtFor = stepName
		return []interface{}{listener}, nil
	})

	step, err := newFactory(t, cfg, registry).CreateTaskletStep("job", "counter", newCountingTasklet(3))
	require.NoError(t, err)
	require.NoError(t, step.Execute(context.Background(), newExecution()))

	assert.Equal(t, "counter", builtFor)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusStarted}, listener.before)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusCompleted}, listener.after)
}

func TestStepFactory_UnknownListenerFails(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.Listeners = []string{"missing"}

	_, err := newFactory(t, cfg, tasklet.NewListenerRegistry()).CreateTaskletStep("job", "step", newCountingTasklet(1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestListenerRegistry_RejectsValuesWithoutListenerInterface(t *testing.T) {
	registry := tasklet.NewListenerRegistry()
	registry.Register("bogus", func(*config.Config, string) ([]interface{}, error) {
		return []interface{}{"not a listener"}, nil
	})
	registry.Register("another", func(*config.Config, string) ([]interface{}, error) { return nil, nil })

	_, err := registry.Options(config.NewConfig(), "step", []string{"bogus"})

	require.Error(t, err)
	assert.Equal(t, []string{"another", "bogus"}, registry.Names())
}

func TestListenerRegistry_AttachesRepeatListeners(t *testing.T) {
	opened := 0
	registry := tasklet.NewListenerRegistry()
	registry.Register("repeat", func(*config.Config, string) ([]interface{}, error) {
		return []interface{}{&openCounter{opened: &opened}}, nil
	})
	opts, err := registry.Options(config.NewConfig(), "step", []string{"repeat"})
	require.NoError(t, err)
	opts = append(opts, tasklet.WithCommitInterval(2))

	step := tasklet.NewTaskletStep("job", "step", newCountingTasklet(4), inmemory.NewInMemoryJobRepository(),
		tx.NewResourcelessTransactionManager(), opts...)
	require.NoError(t, step.Execute(context.Background(), newExecution()))

	assert.Equal(t, 2, opened)
}

type openCounter struct {
	repeat.ListenerSupport
	opened *int
}

func (l *openCounter) Open(ctx context.Context, rc *repeat.Context) error {
	*l.opened++
	return nil
}

func TestNewExceptionHandler(t *testing.T) {
	h, err := tasklet.NewExceptionHandler(config.ExceptionHandlerConfig{Type: "default"})
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = tasklet.NewExceptionHandler(config.ExceptionHandlerConfig{Type: "simple_limit", Limit: 2})
	require.NoError(t, err)
	assert.IsType(t, &handler.SimpleLimitExceptionHandler{}, h)

	h, err = tasklet.NewExceptionHandler(config.ExceptionHandlerConfig{
		Type:           "log_or_rethrow",
		Classification: map[string]string{"ErrStepExecutionNotFound": "WARN"},
	})
	require.NoError(t, err)
	assert.IsType(t, &handler.LogOrRethrowExceptionHandler{}, h)

	_, err = tasklet.NewExceptionHandler(config.ExceptionHandlerConfig{
		Type:           "log_or_rethrow",
		Classification: map[string]string{"ErrStepExecutionNotFound": "LOUD"},
	})
	assert.Error(t, err)

	_, err = tasklet.NewExceptionHandler(config.ExceptionHandlerConfig{Type: "unknown"})
	assert.Error(t, err)
}

func TestNewTaskExecutor(t *testing.T) {
	cfg := config.NewConfig()
	lc := fxtest.NewLifecycle(t)

	executor, err := tasklet.NewTaskExecutor(lc, cfg)
	require.NoError(t, err)
	assert.IsType(t, repeat.SyncTaskExecutor{}, executor)

	cfg.Chunkflow.Batch.TaskExecutor = config.TaskExecutorGoroutine
	executor, err = tasklet.NewTaskExecutor(lc, cfg)
	require.NoError(t, err)
	assert.IsType(t, repeat.GoroutineTaskExecutor{}, executor)

	cfg.Chunkflow.Batch.TaskExecutor = "fork"
	_, err = tasklet.NewTaskExecutor(lc, cfg)
	assert.Error(t, err)
}

func TestModule_ProvidesStepFactory(t *testing.T) {
	var factory *tasklet.StepFactory
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		inmemory.Module,
		metrics.Module,
		tasklet.Module,
		fx.Populate(&factory),
	)
	app.RequireStart()
	defer app.RequireStop()

	step, err := factory.CreateTaskletStep("job", "step", newCountingTasklet(1))
	require.NoError(t, err)
	assert.Equal(t, "step", step.StepName())
}
