package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// OTelMetricRecorder records step, chunk and task metrics through an OpenTelemetry meter.
type OTelMetricRecorder struct {
	stepDuration      otelmetric.Float64Histogram
	stepStatus        otelmetric.Int64Counter
	taskExecutions    otelmetric.Int64Counter
	taskSkips         otelmetric.Int64Counter
	taskRetries       otelmetric.Int64Counter
	chunkCommits      otelmetric.Int64Counter
	chunkRollbacks    otelmetric.Int64Counter
	committedTasks    otelmetric.Int64Counter
	operationDuration otelmetric.Float64Histogram
}

// NewOTelMetricRecorder creates the instruments on a meter of the given provider.
func NewOTelMetricRecorder(provider otelmetric.MeterProvider) (*OTelMetricRecorder, error) {
	meter := provider.Meter(InstrumentationName)
	r := &OTelMetricRecorder{}
	var err error

	if r.stepDuration, err = meter.Float64Histogram("chunkflow.step.duration",
		otelmetric.WithDescription("Duration of step executions."), otelmetric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating step duration histogram: %w", err)
	}
	if r.stepStatus, err = meter.Int64Counter("chunkflow.step.status",
		otelmetric.WithDescription("Step executions by status.")); err != nil {
		return nil, fmt.Errorf("creating step status counter: %w", err)
	}
	if r.taskExecutions, err = meter.Int64Counter("chunkflow.task.executions",
		otelmetric.WithDescription("Tasklet invocations by exit code.")); err != nil {
		return nil, fmt.Errorf("creating task counter: %w", err)
	}
	if r.taskSkips, err = meter.Int64Counter("chunkflow.task.skips",
		otelmetric.WithDescription("Skipped tasklet invocations.")); err != nil {
		return nil, fmt.Errorf("creating skip counter: %w", err)
	}
	if r.taskRetries, err = meter.Int64Counter("chunkflow.task.retries",
		otelmetric.WithDescription("Retried tasklet invocations.")); err != nil {
		return nil, fmt.Errorf("creating retry counter: %w", err)
	}
	if r.chunkCommits, err = meter.Int64Counter("chunkflow.chunk.commits",
		otelmetric.WithDescription("Committed chunks.")); err != nil {
		return nil, fmt.Errorf("creating commit counter: %w", err)
	}
	if r.chunkRollbacks, err = meter.Int64Counter("chunkflow.chunk.rollbacks",
		otelmetric.WithDescription("Rolled back chunks.")); err != nil {
		return nil, fmt.Errorf("creating rollback counter: %w", err)
	}
	if r.committedTasks, err = meter.Int64Counter("chunkflow.task.committed",
		otelmetric.WithDescription("Tasklet invocations committed with their chunk.")); err != nil {
		return nil, fmt.Errorf("creating committed task counter: %w", err)
	}
	if r.operationDuration, err = meter.Float64Histogram("chunkflow.operation.duration",
		otelmetric.WithDescription("Duration of named operations."), otelmetric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating operation duration histogram: %w", err)
	}
	return r, nil
}

func stepAttrs(ctx context.Context, stepName string, extra ...attribute.KeyValue) otelmetric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("job_name", jobNameFrom(ctx)),
		attribute.String("step_name", stepName),
	}, extra...)
	return otelmetric.WithAttributes(attrs...)
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatus.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

// RecordStepEnd implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	)
	r.stepStatus.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordTaskExecution implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordTaskExecution(ctx context.Context, stepName string, exitCode string) {
	r.taskExecutions.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("exit_code", exitCode)))
}

// RecordTaskSkip implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordTaskSkip(ctx context.Context, stepName string, reason string) {
	r.taskSkips.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("reason", reason)))
}

// RecordTaskRetry implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordTaskRetry(ctx context.Context, stepName string, reason string) {
	r.taskRetries.Add(ctx, 1, stepAttrs(ctx, stepName, attribute.String("reason", reason)))
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	attrs := stepAttrs(ctx, stepName)
	r.chunkCommits.Add(ctx, 1, attrs)
	r.committedTasks.Add(ctx, int64(count), attrs)
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollbacks.Add(ctx, 1, stepAttrs(ctx, stepName))
}

// RecordDuration implements metrics.MetricRecorder. All tags become attributes.
func (r *OTelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)
