package tasklet

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	retry "github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	skip "github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/handler"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Exception handler types selectable with batch.exception_handler.type.
const (
	ExceptionHandlerDefault      = "default"
	ExceptionHandlerSimpleLimit  = "simple_limit"
	ExceptionHandlerLogOrRethrow = "log_or_rethrow"
)

// StepFactory builds TaskletSteps configured from the batch section of the configuration.
type StepFactory struct {
	cfg            *config.Config
	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	executor       repeat.TaskExecutor
	listeners      *ListenerRegistry
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// StepFactoryParams defines the dependencies NewStepFactory receives via Fx.
type StepFactoryParams struct {
	fx.In
	Config         *config.Config
	JobRepository  repository.JobRepository
	TxManager      tx.TransactionManager
	Executor       repeat.TaskExecutor
	Listeners      *ListenerRegistry
	MetricRecorder metrics.MetricRecorder `optional:"true"`
	Tracer         metrics.Tracer         `optional:"true"`
}

// NewStepFactory creates a StepFactory.
func NewStepFactory(p StepFactoryParams) *StepFactory {
	listeners := p.Listeners
	if listeners == nil {
		listeners = NewListenerRegistry()
	}
	return &StepFactory{
		cfg:            p.Config,
		jobRepository:  p.JobRepository,
		txManager:      p.TxManager,
		executor:       p.Executor,
		listeners:      listeners,
		metricRecorder: p.MetricRecorder,
		tracer:         p.Tracer,
	}
}

// CreateTaskletStep builds a step running t. The configured options come first, so extra options
// override them.
func (f *StepFactory) CreateTaskletStep(jobName, name string, t port.Tasklet, extra ...Option) (*TaskletStep, error) {
	opts, err := f.Options(name)
	if err != nil {
		return nil, exception.NewBatchError("step_factory", fmt.Sprintf("Failed to configure step '%s'", name), err, false, false)
	}
	step := NewTaskletStep(jobName, name, t, f.jobRepository, f.txManager, append(opts, extra...)...)
	logger.Debugf("Tasklet Step '%s' built.", name)
	return step, nil
}

// Options returns the step options derived from the configuration for the step name.
func (f *StepFactory) Options(name string) ([]Option, error) {
	b := f.cfg.Chunkflow.Batch

	opts := []Option{
		WithSaveRestartData(b.IsSaveRestartData()),
		WithMetricRecorder(f.metricRecorder),
		WithTracer(f.tracer),
	}
	if b.CommitInterval > 0 {
		opts = append(opts, WithCommitInterval(b.CommitInterval))
	}
	if b.TaskExecutor != "" && b.TaskExecutor != config.TaskExecutorSync {
		if f.executor == nil {
			return nil, fmt.Errorf("task executor '%s' configured but none provided", b.TaskExecutor)
		}
		opts = append(opts, WithThrottling(f.executor, b.ThrottleLimit))
	}
	if b.IsolationLevel != "" {
		opts = append(opts, WithTransactionOptions(&sql.TxOptions{Isolation: tx.ParseIsolationLevel(b.IsolationLevel)}))
	}

	if b.Retry.MaxAttempts > 0 {
		opts = append(opts, WithRetryPolicy(retry.NewDefaultRetryPolicyFactory().CreateExponential(
			b.Retry.MaxAttempts, b.Retry.InitialInterval, b.Retry.Factor, b.Retry.MaxInterval, b.Retry.RetryableExceptions,
		)))
	}
	// Without a limit, a Recoverable tasklet decides alone what it recovers from.
	if b.Skip.SkipLimit > 0 {
		p, err := skip.NewDefaultSkipPolicyFactory().Create(b.Skip.SkipLimit, b.Skip.SkippableExceptions)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSkipPolicy(p))
	}

	h, err := NewExceptionHandler(b.ExceptionHandler)
	if err != nil {
		return nil, err
	}
	if h != nil {
		opts = append(opts, WithChunkExceptionHandler(h))
	}

	listenerOpts, err := f.listeners.Options(f.cfg, name, b.Listeners)
	if err != nil {
		return nil, err
	}
	return append(opts, listenerOpts...), nil
}

// NewExceptionHandler creates the chunk loop exception handler selected by cfg.
// It returns nil for the default handler, which fails fast.
func NewExceptionHandler(cfg config.ExceptionHandlerConfig) (repeat.ExceptionHandler, error) {
	switch cfg.Type {
	case "", ExceptionHandlerDefault:
		return nil, nil
	case ExceptionHandlerSimpleLimit:
		return handler.NewSimpleLimitExceptionHandler(cfg.Limit, cfg.ExceptionTypes...), nil
	case ExceptionHandlerLogOrRethrow:
		h := handler.NewLogOrRethrowExceptionHandler()
		types := make([]string, 0, len(cfg.Classification))
		for errorType := range cfg.Classification {
			types = append(types, errorType)
		}
		sort.Strings(types)
		for _, errorType := range types {
			c, err := handler.ParseClassification(cfg.Classification[errorType])
			if err != nil {
				return nil, err
			}
			h.Classify(errorType, c)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown exception handler type: %s", cfg.Type)
	}
}

// NewTaskExecutor creates the executor selected by batch.task_executor. A worker pool is started
// and stopped with the application.
func NewTaskExecutor(lc fx.Lifecycle, cfg *config.Config) (repeat.TaskExecutor, error) {
	b := cfg.Chunkflow.Batch
	switch b.TaskExecutor {
	case "", config.TaskExecutorSync:
		return repeat.SyncTaskExecutor{}, nil
	case config.TaskExecutorGoroutine:
		return repeat.GoroutineTaskExecutor{}, nil
	case config.TaskExecutorWorkerPool:
		pool := repeat.NewWorkerPool(b.WorkerPoolSize)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				pool.Start()
				return nil
			},
			OnStop: pool.Stop,
		})
		return pool, nil
	default:
		return nil, fmt.Errorf("unknown task executor: %s", b.TaskExecutor)
	}
}
