package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Span represents a single operation or unit of work in distributed tracing.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	End()
}

// MetricRecorder is an abstract interface for recording metrics related to step execution.
//
// This interface provides a standardized way to record step, chunk and tasklet-level events.
// This facilitates integration with different metrics backends (e.g., Prometheus, OpenTelemetry Metrics).
// Implementations must be safe for concurrent use: task-level events are recorded from worker goroutines
// when the chunk loop is throttled.
type MetricRecorder interface {
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution, including its final status and counters.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordTaskExecution records one tasklet invocation.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step.
	// exitCode: The exit code of the invocation, or "ERROR" if it failed.
	RecordTaskExecution(ctx context.Context, stepName string, exitCode string)

	// RecordTaskSkip records a skipped tasklet invocation.
	//
	// reason: A string indicating the reason for skipping (e.g., error type).
	RecordTaskSkip(ctx context.Context, stepName string, reason string)

	// RecordTaskRetry records a retried tasklet invocation.
	//
	// reason: A string indicating the reason for the retry (e.g., error type).
	RecordTaskRetry(ctx context.Context, stepName string, reason string)

	// RecordChunkCommit records the commit of a chunk.
	//
	// count: The number of tasklet invocations committed.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records the rollback of a chunk.
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "chunk", "step").
	// tags: A map of additional tags or attributes to associate with the duration.
	//       Example: `{"step_name": "counter", "status": "COMPLETED"}`
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
