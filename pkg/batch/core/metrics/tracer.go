package metrics

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like OpenTelemetry,
// enabling visualization of step and chunk execution flows.
type Tracer interface {
	// StartStepSpan starts a Span for a StepExecution.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// StartChunkSpan starts a Span for one chunk (one transaction) of a step.
	//
	// ctx: The parent context (typically a context with a step span).
	// stepName: The name of the step.
	// chunk: The 1-based number of the chunk within this execution.
	StartChunkSpan(ctx context.Context, stepName string, chunk int) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// module: The name of the component where the error occurred (e.g., "tasklet", "repository").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// attributes: Additional attributes to associate with the event.
	//             Example: `map[string]interface{}{"commit_count": 3}`
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
