// Package port defines the core interfaces (ports) for the batch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Step is the interface for a single step executed within a job.
type Step interface {
	// Execute runs the step to completion, mutating and persisting stepExecution as it goes.
	//
	// Returns:
	//   error: nil when the step COMPLETED. Otherwise the error that ended the step: an interruption
	//   (see exception.IsJobInterrupted) when it was STOPPED, or the original failure when it FAILED.
	Execute(ctx context.Context, stepExecution *model.StepExecution) error
	// StepName returns the logical name of the step.
	StepName() string
	// JobName returns the name of the job the step belongs to.
	JobName() string
}

// Tasklet is the unit of business logic executed once per iteration of the chunk loop.
type Tasklet interface {
	// Execute runs one invocation.
	//
	// Returns: ExitStatusContinuable (or any continuable status) when more work follows,
	// a non-continuable status such as ExitStatusCompleted when the tasklet is finished.
	Execute(ctx context.Context) (model.ExitStatus, error)
}

// TaskletFunc adapts a function to Tasklet.
type TaskletFunc func(ctx context.Context) (model.ExitStatus, error)

func (f TaskletFunc) Execute(ctx context.Context) (model.ExitStatus, error) { return f(ctx) }

// Restartable is implemented by tasklets that can save their position and resume from it.
type Restartable interface {
	// GetRestartData returns the state to persist after a committed chunk.
	GetRestartData() model.ExecutionContext
	// RestoreFrom restores state saved by a previous execution.
	RestoreFrom(data model.ExecutionContext) error
}

// StatisticsProvider is implemented by tasklets that report statistics after every committed chunk.
type StatisticsProvider interface {
	GetStatistics() map[string]interface{}
}

// Recoverable is implemented by tasklets that can record a failure outside the failing transaction.
type Recoverable interface {
	// Recover runs in a new, independent transaction bound to ctx.
	Recover(ctx context.Context, cause error) error
}

// Skippable is implemented by tasklets that can move past the work that failed.
type Skippable interface {
	Skip(ctx context.Context) error
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution completes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk processing events.
type ChunkListener interface {
	// BeforeChunk is called inside the chunk transaction, before the first tasklet invocation.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after the chunk transaction committed.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after the chunk transaction rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// RetryListener is an interface for handling tasklet retry events.
type RetryListener interface {
	// OnRetry is called before a failed invocation is retried.
	OnRetry(ctx context.Context, attempt int, err error)
}

// SkipListener is an interface for handling tasklet skip events.
type SkipListener interface {
	// OnSkip is called after a failed invocation was recovered and skipped.
	OnSkip(ctx context.Context, err error)
}

// Define context key for StepExecution propagation during chunk processing.
type contextKey string

const StepExecutionKey contextKey = "stepExecution"

// GetContextWithStepExecution stores a StepExecution in the Context.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, StepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
// Tasklets may read it; only the step loop mutates it.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(StepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}
