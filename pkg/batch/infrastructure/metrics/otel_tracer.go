package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// InstrumentationName names the tracer and meter of this package.
const InstrumentationName = "github.com/tigerroll/chunkflow/pkg/batch"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from the given provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(InstrumentationName)}
}

// StartStepSpan starts a new span for a StepExecution.
// The returned function records the final status and counters of the execution before ending the span.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("chunkflow.job_name", execution.JobName),
			attribute.String("chunkflow.step_name", execution.StepName),
			attribute.String("chunkflow.step_execution_id", execution.ID),
		))
	logger.Tracef("Tracer: Step span started for '%s'.", execution.StepName)
	return ctx, func() {
		span.SetAttributes(
			attribute.String("chunkflow.status", execution.Status.String()),
			attribute.String("chunkflow.exit_code", execution.ExitStatus.ExitCode),
			attribute.Int("chunkflow.commit_count", execution.CommitCount),
			attribute.Int("chunkflow.rollback_count", execution.RollbackCount),
			attribute.Int("chunkflow.task_count", execution.TaskCount),
			attribute.Int("chunkflow.skip_count", execution.SkipCount),
			attribute.Int("chunkflow.retry_count", execution.RetryCount),
		)
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, execution.ExitStatus.ExitDescription)
		}
		span.End()
	}
}

// StartChunkSpan starts a child span for one chunk transaction.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, stepName string, chunk int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk "+stepName,
		trace.WithAttributes(
			attribute.String("chunkflow.step_name", stepName),
			attribute.Int("chunkflow.chunk", chunk),
		))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("chunkflow.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

// toAttributes converts free-form values to span attributes. Unknown types are formatted with %v.
func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case fmt.Stringer:
			attrs = append(attrs, attribute.String(k, val.String()))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
