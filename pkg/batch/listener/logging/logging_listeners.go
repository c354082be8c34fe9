package logging

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// --- Step Listener ---

// LoggingStepListener logs step, chunk, retry and skip events.
type LoggingStepListener struct {
	stepName string
}

func NewLoggingStepListener(stepName string) *LoggingStepListener {
	return &LoggingStepListener{stepName: stepName}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitCode: %s, Commits: %d, Rollbacks: %d, Tasks: %d, Skips: %d, Retries: %d",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus.ExitCode,
		stepExecution.CommitCount, stepExecution.RollbackCount, stepExecution.TaskCount, stepExecution.SkipCount, stepExecution.RetryCount)
}

func (l *LoggingStepListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s", stepExecution.StepName)
}

func (l *LoggingStepListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Commits: %d, Tasks: %d", stepExecution.StepName, stepExecution.CommitCount, stepExecution.TaskCount)
}

func (l *LoggingStepListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Warnf("ChunkListener: AfterChunkError - StepName: %s, Rollbacks: %d, Error: %v", stepExecution.StepName, stepExecution.RollbackCount, err)
}

func (l *LoggingStepListener) OnRetry(ctx context.Context, attempt int, err error) {
	logger.Warnf("RetryListener: OnRetry - StepName: %s, Attempt: %d, Error: %v", l.stepName, attempt, err)
}

func (l *LoggingStepListener) OnSkip(ctx context.Context, err error) {
	logger.Warnf("SkipListener: OnSkip - StepName: %s, Skipping invocation due to error: %v", l.stepName, err)
}

var (
	_ port.StepExecutionListener = (*LoggingStepListener)(nil)
	_ port.ChunkListener         = (*LoggingStepListener)(nil)
	_ port.RetryListener         = (*LoggingStepListener)(nil)
	_ port.SkipListener          = (*LoggingStepListener)(nil)
)

// --- Repeat Listener ---

// RepeatLoggingListener traces the chunk loop at TRACE level and logs iteration errors.
type RepeatLoggingListener struct {
	repeat.ListenerSupport
	stepName string
}

func NewRepeatLoggingListener(stepName string) *RepeatLoggingListener {
	return &RepeatLoggingListener{stepName: stepName}
}

func (l *RepeatLoggingListener) Open(ctx context.Context, rc *repeat.Context) error {
	logger.Tracef("RepeatListener: Open - StepName: %s", l.stepName)
	return nil
}

func (l *RepeatLoggingListener) After(ctx context.Context, rc *repeat.Context, result model.ExitStatus) error {
	logger.Tracef("RepeatListener: After - StepName: %s, Iteration: %d, ExitCode: %s", l.stepName, rc.StartedCount(), result.ExitCode)
	return nil
}

func (l *RepeatLoggingListener) OnError(ctx context.Context, rc *repeat.Context, err error) error {
	logger.Warnf("RepeatListener: OnError - StepName: %s, Iteration: %d, Error: %v", l.stepName, rc.StartedCount(), err)
	return nil
}

func (l *RepeatLoggingListener) Close(ctx context.Context, rc *repeat.Context) error {
	logger.Tracef("RepeatListener: Close - StepName: %s, Iterations: %d", l.stepName, rc.StartedCount())
	return nil
}

var _ repeat.Listener = (*RepeatLoggingListener)(nil)
