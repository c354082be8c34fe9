package tasklet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	retry "github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	skip "github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/policy"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StatisticsAttribute is the step repeat context attribute holding the statistics of the last committed chunk.
const StatisticsAttribute = "step.statistics"

// TaskletStep runs a tasklet in two nested loops. The step loop runs one chunk per iteration, each
// chunk in its own transaction; the chunk loop runs one tasklet invocation per iteration.
type TaskletStep struct {
	jobName       string
	name          string
	tasklet       port.Tasklet
	caps          Capabilities
	jobRepository repository.JobRepository
	txManager     tx.TransactionManager

	stepOperations  repeat.Operations
	chunkOperations repeat.Operations
	chunkTemplate   *tx.Template
	invoker         *FaultTolerantInvoker

	interruptionPolicy InterruptionPolicy
	classifier         ExitStatusClassifier
	saveRestartData    bool

	stepExecutionListeners []port.StepExecutionListener
	chunkListeners         []port.ChunkListener

	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

type stepOptions struct {
	commitInterval     int
	throttleLimit      int
	executor           repeat.TaskExecutor
	throttled          bool
	chunkOperations    repeat.Operations
	stepOperations     repeat.Operations
	chunkListeners     []repeat.Listener
	chunkHandler       repeat.ExceptionHandler
	txOptions          *sql.TxOptions
	interruptionPolicy InterruptionPolicy
	classifier         ExitStatusClassifier
	saveRestartData    bool
	retryPolicy        retry.RetryPolicy
	skipPolicy         skip.SkipPolicy
	stepListeners      []port.StepExecutionListener
	chunkEventListener []port.ChunkListener
	retryListeners     []port.RetryListener
	skipListeners      []port.SkipListener
	metricRecorder     metrics.MetricRecorder
	tracer             metrics.Tracer
}

// Option configures a TaskletStep.
type Option func(*stepOptions)

// WithCommitInterval sets the number of tasklet invocations per chunk. Defaults to policy.DefaultChunkSize.
func WithCommitInterval(n int) Option {
	return func(o *stepOptions) { o.commitInterval = n }
}

// WithThrottling runs the invocations of a chunk concurrently on executor, at most limit at a time.
// The tasklet must be safe for concurrent use.
func WithThrottling(executor repeat.TaskExecutor, limit int) Option {
	return func(o *stepOptions) {
		o.throttled = true
		o.executor = executor
		o.throttleLimit = limit
	}
}

// WithChunkOperations replaces the chunk loop. The commit interval and throttling options are then ignored.
func WithChunkOperations(ops repeat.Operations) Option {
	return func(o *stepOptions) { o.chunkOperations = ops }
}

// WithStepOperations replaces the step loop.
func WithStepOperations(ops repeat.Operations) Option {
	return func(o *stepOptions) { o.stepOperations = ops }
}

// WithChunkRepeatListeners adds listeners to the default chunk loop.
func WithChunkRepeatListeners(listeners ...repeat.Listener) Option {
	return func(o *stepOptions) { o.chunkListeners = append(o.chunkListeners, listeners...) }
}

// WithChunkExceptionHandler sets the exception handler of the default chunk loop.
func WithChunkExceptionHandler(h repeat.ExceptionHandler) Option {
	return func(o *stepOptions) { o.chunkHandler = h }
}

// WithTransactionOptions sets the options used to begin chunk transactions.
func WithTransactionOptions(opts *sql.TxOptions) Option {
	return func(o *stepOptions) { o.txOptions = opts }
}

// WithInterruptionPolicy replaces DefaultInterruptionPolicy.
func WithInterruptionPolicy(p InterruptionPolicy) Option {
	return func(o *stepOptions) { o.interruptionPolicy = p }
}

// WithExitStatusClassifier replaces DefaultExitStatusClassifier.
func WithExitStatusClassifier(c ExitStatusClassifier) Option {
	return func(o *stepOptions) { o.classifier = c }
}

// WithSaveRestartData enables saving restart data after every chunk and restoring it on restart.
// Enabled by default.
func WithSaveRestartData(enabled bool) Option {
	return func(o *stepOptions) { o.saveRestartData = enabled }
}

// WithRetryPolicy enables retry of failed invocations.
func WithRetryPolicy(p retry.RetryPolicy) Option {
	return func(o *stepOptions) { o.retryPolicy = p }
}

// WithSkipPolicy limits which failures are recovered and skipped.
func WithSkipPolicy(p skip.SkipPolicy) Option {
	return func(o *stepOptions) { o.skipPolicy = p }
}

// WithStepExecutionListeners adds step listeners.
func WithStepExecutionListeners(listeners ...port.StepExecutionListener) Option {
	return func(o *stepOptions) { o.stepListeners = append(o.stepListeners, listeners...) }
}

// WithChunkListeners adds chunk listeners.
func WithChunkListeners(listeners ...port.ChunkListener) Option {
	return func(o *stepOptions) { o.chunkEventListener = append(o.chunkEventListener, listeners...) }
}

// WithRetryListeners adds retry listeners.
func WithRetryListeners(listeners ...port.RetryListener) Option {
	return func(o *stepOptions) { o.retryListeners = append(o.retryListeners, listeners...) }
}

// WithSkipListeners adds skip listeners.
func WithSkipListeners(listeners ...port.SkipListener) Option {
	return func(o *stepOptions) { o.skipListeners = append(o.skipListeners, listeners...) }
}

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(o *stepOptions) { o.metricRecorder = r }
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(o *stepOptions) { o.tracer = t }
}

// NewTaskletStep creates a new TaskletStep.
func NewTaskletStep(
	jobName string,
	name string,
	t port.Tasklet,
	jobRepository repository.JobRepository,
	txManager tx.TransactionManager,
	opts ...Option,
) *TaskletStep {
	o := &stepOptions{
		commitInterval:  policy.DefaultChunkSize,
		saveRestartData: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metricRecorder == nil {
		o.metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if o.tracer == nil {
		o.tracer = metrics.NewNoOpTracer()
	}
	if o.interruptionPolicy == nil {
		o.interruptionPolicy = DefaultInterruptionPolicy{}
	}
	if o.classifier == nil {
		o.classifier = DefaultExitStatusClassifier{}
	}

	chunkOps := o.chunkOperations
	if chunkOps == nil {
		repeatOpts := []repeat.Option{
			repeat.WithCompletionPolicy(policy.NewSimpleCompletionPolicy(o.commitInterval)),
			repeat.WithListeners(o.chunkListeners...),
		}
		if o.chunkHandler != nil {
			repeatOpts = append(repeatOpts, repeat.WithExceptionHandler(o.chunkHandler))
		}
		if o.throttled {
			chunkOps = repeat.NewThrottledTemplate(o.executor, o.throttleLimit, repeatOpts...)
		} else {
			chunkOps = repeat.NewTemplate(repeatOpts...)
		}
	}
	stepOps := o.stepOperations
	if stepOps == nil {
		stepOps = repeat.NewTemplate()
	}

	caps := DetectCapabilities(t)
	invoker := NewFaultTolerantInvoker(name, t, caps, txManager, o.retryPolicy, o.skipPolicy)
	invoker.SetListeners(o.retryListeners, o.skipListeners)
	invoker.SetMetrics(o.metricRecorder, o.tracer)

	logger.Debugf("TaskletStep '%s' created (capabilities: %s, commit interval: %d, throttled: %t).", name, caps, o.commitInterval, o.throttled)

	return &TaskletStep{
		jobName:                jobName,
		name:                   name,
		tasklet:                t,
		caps:                   caps,
		jobRepository:          jobRepository,
		txManager:              txManager,
		stepOperations:         stepOps,
		chunkOperations:        chunkOps,
		chunkTemplate:          tx.NewTemplate(txManager, tx.PropagationRequired, o.txOptions),
		invoker:                invoker,
		interruptionPolicy:     o.interruptionPolicy,
		classifier:             o.classifier,
		saveRestartData:        o.saveRestartData,
		stepExecutionListeners: o.stepListeners,
		chunkListeners:         o.chunkEventListener,
		metricRecorder:         o.metricRecorder,
		tracer:                 o.tracer,
	}
}

// StepName returns the step name.
func (s *TaskletStep) StepName() string {
	return s.name
}

// JobName returns the name of the job the step belongs to.
func (s *TaskletStep) JobName() string {
	return s.jobName
}

// Capabilities returns the optional behaviours detected on the tasklet.
func (s *TaskletStep) Capabilities() Capabilities {
	return s.caps
}

// Execute runs the step. See port.Step.
func (s *TaskletStep) Execute(ctx context.Context, stepExecution *model.StepExecution) (err error) {
	logger.Infof("TaskletStep '%s' executing (StepExecution ID: %s).", s.name, stepExecution.ID)
	start := time.Now()

	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	syncs := tx.NewSynchronizationManager()
	ctx = tx.WithSynchronizations(ctx, syncs)
	ctx = port.GetContextWithStepExecution(ctx, stepExecution)

	// Released whatever happens below; a release failure never hides the step's own error.
	defer func() {
		if clearErr := syncs.Clear(); clearErr != nil {
			logger.Errorf("TaskletStep '%s': Failed to release transaction resources: %v", s.name, clearErr)
			if err != nil {
				err = multierror.Append(err, clearErr)
			} else {
				err = clearErr
			}
		}
	}()

	instance, runErr := s.open(ctx, stepExecution)
	var status model.ExitStatus
	if runErr == nil {
		s.metricRecorder.RecordStepStart(ctx, stepExecution)
		s.notifyBeforeStep(ctx, stepExecution)
		status, runErr = s.stepOperations.Iterate(ctx, s.stepCallback(stepExecution, instance))
	}

	err = s.close(ctx, stepExecution, instance, status, runErr)

	s.metricRecorder.RecordDuration(ctx, "step", time.Since(start), map[string]string{
		"step_name": s.name,
		"status":    string(stepExecution.Status),
	})
	logger.Infof("TaskletStep '%s' finished. Status: %s, ExitStatus: %s", s.name, stepExecution.Status, stepExecution.ExitStatus.ExitCode)
	logger.Debugf("TaskletStep '%s' final state: %s", s.name, stepExecution.DebugString())
	return err
}

// open marks the execution STARTED, persists it, and restores restart data on a re-run.
func (s *TaskletStep) open(ctx context.Context, se *model.StepExecution) (*model.StepInstance, error) {
	instance, err := s.findOrCreateInstance(ctx, se)
	if err != nil {
		return nil, err
	}
	isRestart := instance.IsRestart()

	se.MarkAsStarted()
	if err := s.jobRepository.SaveOrUpdateStepExecution(ctx, se); err != nil {
		return instance, exception.NewBatchError(s.name, "Failed to persist StepExecution as STARTED", err, false, false)
	}

	instance.ExecutionCount++
	instance.LastExecutionID = se.ID
	instance.Status = model.BatchStatusStarted
	if err := s.jobRepository.UpdateStepInstance(ctx, instance); err != nil {
		return instance, exception.NewBatchError(s.name, "Failed to update StepInstance", err, false, false)
	}

	if isRestart && s.saveRestartData && s.caps.Restartable != nil && len(instance.RestartData) > 0 {
		logger.Infof("TaskletStep '%s': Restoring restart data from previous execution: %v", s.name, instance.RestartData)
		if err := s.caps.Restartable.RestoreFrom(instance.RestartData.Copy()); err != nil {
			return instance, exception.NewBatchError(s.name, "Failed to restore restart data", err, false, false)
		}
	}
	return instance, nil
}

func (s *TaskletStep) findOrCreateInstance(ctx context.Context, se *model.StepExecution) (*model.StepInstance, error) {
	instance, err := s.jobRepository.FindStepInstance(ctx, s.jobName, s.name)
	if err == nil {
		return instance, nil
	}
	if !errors.Is(err, repository.ErrStepInstanceNotFound) {
		return nil, exception.NewBatchError(s.name, "Failed to load StepInstance", err, false, false)
	}
	instance = model.NewStepInstance(s.jobName, s.name)
	if se.StepInstanceID != "" {
		instance.ID = se.StepInstanceID
	}
	if err := s.jobRepository.CreateStepInstance(ctx, instance); err != nil {
		return nil, exception.NewBatchError(s.name, "Failed to create StepInstance", err, false, false)
	}
	se.StepInstanceID = instance.ID
	logger.Debugf("TaskletStep '%s': Created StepInstance (ID: %s).", s.name, instance.ID)
	return instance, nil
}

// stepCallback returns the step loop body: one chunk in one transaction.
func (s *TaskletStep) stepCallback(se *model.StepExecution, instance *model.StepInstance) repeat.Callback {
	chunk := 0
	return repeat.CallbackFunc(func(ctx context.Context, rc *repeat.Context) (model.ExitStatus, error) {
		chunk++
		if err := s.interruptionPolicy.CheckInterrupted(ctx, se); err != nil {
			return model.ExitStatus{}, err
		}

		chunkCtx, endSpan := s.tracer.StartChunkSpan(ctx, s.name, chunk)
		defer endSpan()
		start := time.Now()

		contribution := model.NewContribution()
		applied := false
		var result model.ExitStatus
		err := s.chunkTemplate.Execute(chunkCtx, func(txCtx context.Context, current tx.Tx) error {
			tx.SynchronizationsFromContext(txCtx).Resynchronize()
			s.notifyBeforeChunk(txCtx, se)

			var err error
			result, err = s.chunkOperations.Iterate(txCtx, s.chunkCallback(se, contribution))
			if err != nil {
				return err
			}

			if s.saveRestartData && s.caps.Restartable != nil {
				instance.RestartData = s.caps.Restartable.GetRestartData()
				if err := s.jobRepository.UpdateStepInstance(txCtx, instance); err != nil {
					return exception.NewBatchError(s.name, "Failed to save restart data", err, false, false)
				}
			}
			if s.caps.Statistics != nil {
				stats := s.caps.Statistics.GetStatistics()
				for k, v := range stats {
					se.Statistics.Put(k, v)
				}
				rc.SetAttribute(StatisticsAttribute, stats)
			}

			se.Apply(contribution)
			applied = true
			if err := s.jobRepository.SaveOrUpdateStepExecution(txCtx, se); err != nil {
				return exception.NewBatchError(s.name, "Failed to persist StepExecution after chunk", err, false, false)
			}
			return nil
		})

		tags := map[string]string{"step_name": s.name}
		if err != nil {
			se.IncrementRollbackCount()
			if applied {
				se.Unapply(contribution)
				s.resync(chunkCtx, se, instance)
			}
			se.RetainSkips(contribution)
			tags["outcome"] = "rollback"
			s.metricRecorder.RecordChunkRollback(chunkCtx, s.name)
			s.metricRecorder.RecordDuration(chunkCtx, "chunk", time.Since(start), tags)
			s.tracer.RecordError(chunkCtx, "chunk", err)
			s.notifyAfterChunkError(chunkCtx, se, err)
			logger.Warnf("TaskletStep '%s': Chunk %d rolled back (Rollback Count: %d): %v", s.name, chunk, se.RollbackCount, err)
			return model.ExitStatus{}, err
		}

		tags["outcome"] = "commit"
		s.metricRecorder.RecordChunkCommit(chunkCtx, s.name, contribution.TaskCount())
		s.metricRecorder.RecordDuration(chunkCtx, "chunk", time.Since(start), tags)
		s.tracer.RecordEvent(chunkCtx, "chunk_committed", map[string]interface{}{
			"commit_count": se.CommitCount,
			"task_count":   contribution.TaskCount(),
		})
		s.notifyAfterChunk(chunkCtx, se)
		logger.Debugf("TaskletStep '%s': Chunk %d committed (%d invocations, Commit Count: %d).", s.name, chunk, contribution.TaskCount(), se.CommitCount)

		// An interruption that arrived during the commit is still reported.
		if err := s.interruptionPolicy.CheckInterrupted(ctx, se); err != nil {
			return model.ExitStatus{}, err
		}
		return result, nil
	})
}

// chunkCallback returns the chunk loop body: one tasklet invocation.
func (s *TaskletStep) chunkCallback(se *model.StepExecution, contribution *model.Contribution) repeat.Callback {
	return repeat.CallbackFunc(func(ctx context.Context, rc *repeat.Context) (model.ExitStatus, error) {
		if err := s.interruptionPolicy.CheckInterrupted(ctx, se); err != nil {
			return model.ExitStatus{}, err
		}
		status, err := s.invoker.Invoke(ctx, contribution)
		if err != nil {
			s.metricRecorder.RecordTaskExecution(ctx, s.name, "ERROR")
			return model.ExitStatus{}, err
		}
		contribution.IncrementTaskCount()
		s.metricRecorder.RecordTaskExecution(ctx, s.name, status.ExitCode)
		if err := s.interruptionPolicy.CheckInterrupted(ctx, se); err != nil {
			return model.ExitStatus{}, err
		}
		return status, nil
	})
}

// resync reloads what a rolled back transaction may have left stale in memory: the instance
// (restart data and version) and the execution's version.
func (s *TaskletStep) resync(ctx context.Context, se *model.StepExecution, instance *model.StepInstance) {
	ctx = context.WithoutCancel(ctx)
	if stored, err := s.jobRepository.FindStepInstance(ctx, s.jobName, s.name); err == nil {
		*instance = *stored
	} else {
		logger.Warnf("TaskletStep '%s': Could not reload StepInstance after rollback: %v", s.name, err)
	}
	if stored, err := s.jobRepository.FindStepExecutionByID(ctx, se.ID); err == nil {
		se.Version = stored.Version
	} else {
		logger.Warnf("TaskletStep '%s': Could not reload StepExecution version after rollback: %v", s.name, err)
	}
}

// close classifies the outcome, records the final state and persists it.
// Persistence uses a context detached from cancellation so that a STOPPED step is still recorded.
func (s *TaskletStep) close(ctx context.Context, se *model.StepExecution, instance *model.StepInstance, status model.ExitStatus, runErr error) error {
	switch {
	case runErr == nil:
		se.MarkAsCompleted(model.ExitStatusCompleted.And(status))
	case isInterruption(ctx, runErr) && stoppedStatus(runErr) == model.BatchStatusStopped:
		logger.Warnf("TaskletStep '%s' was interrupted: %v", s.name, runErr)
		se.MarkAsStopped(s.classifier.Classify(ctx, runErr))
	case isInterruption(ctx, runErr):
		logger.Errorf("TaskletStep '%s' was interrupted with a failure: %v", s.name, runErr)
		se.MarkAsFailed(model.ExitStatusFailed.WithDescription(exception.ExtractErrorMessage(runErr)), runErr)
	default:
		logger.Errorf("TaskletStep '%s' failed: %v", s.name, runErr)
		s.tracer.RecordError(ctx, s.name, runErr)
		se.MarkAsFailed(s.classifier.Classify(ctx, runErr), runErr)
	}

	s.notifyAfterStep(ctx, se)
	s.metricRecorder.RecordStepEnd(ctx, se)

	persistCtx := context.WithoutCancel(ctx)
	var persistErr *multierror.Error
	if err := s.jobRepository.SaveOrUpdateStepExecution(persistCtx, se); err != nil {
		logger.Errorf("TaskletStep '%s': Failed to persist final StepExecution state: %v", s.name, err)
		persistErr = multierror.Append(persistErr, fmt.Errorf("persisting step execution: %w", err))
	}
	if instance != nil {
		instance.Status = se.Status
		if se.Status == model.BatchStatusCompleted {
			// A completed step starts from scratch next time.
			instance.RestartData = model.NewExecutionContext()
		}
		if err := s.jobRepository.UpdateStepInstance(persistCtx, instance); err != nil {
			logger.Errorf("TaskletStep '%s': Failed to persist final StepInstance state: %v", s.name, err)
			persistErr = multierror.Append(persistErr, fmt.Errorf("persisting step instance: %w", err))
		}
	}

	if runErr == nil {
		return persistErr.ErrorOrNil()
	}
	if persistErr != nil {
		return multierror.Append(runErr, persistErr.Errors...)
	}
	return runErr
}

// notifyBeforeStep calls the BeforeStep method of registered StepExecutionListeners.
func (s *TaskletStep) notifyBeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, stepExecution)
	}
}

// notifyAfterStep calls the AfterStep method of registered StepExecutionListeners.
func (s *TaskletStep) notifyAfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyBeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, stepExecution, err)
	}
}

// Verify that TaskletStep implements the port.Step interface.
var _ port.Step = (*TaskletStep)(nil)
