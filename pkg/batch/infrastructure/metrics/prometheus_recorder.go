package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	// Task Metrics
	taskCounter       *prometheus.CounterVec
	taskCommitCount   *prometheus.CounterVec
	taskSkipCounter   *prometheus.CounterVec
	taskRetryCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
// Go runtime and process collectors are registered when withRuntime is true.
func NewPrometheusRecorder(withRuntime bool) *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	if withRuntime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r := &PrometheusRecorder{
		registry: registry,
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkflow_step_duration_seconds",
			Help:    "Duration of step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_code"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_step_status_total",
			Help: "Total number of step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_chunk_commit_total",
			Help: "Total chunk commits by step.",
		}, []string{"job_name", "step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_chunk_rollback_total",
			Help: "Total chunk rollbacks by step.",
		}, []string{"job_name", "step_name"}),
		taskCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_task_executions_total",
			Help: "Total tasklet invocations by step and exit code.",
		}, []string{"job_name", "step_name", "exit_code"}),
		taskCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_task_committed_total",
			Help: "Total tasklet invocations committed by step.",
		}, []string{"job_name", "step_name"}),
		taskSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_task_skip_total",
			Help: "Total skipped tasklet invocations by step and reason.",
		}, []string{"job_name", "step_name", "reason"}),
		taskRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkflow_task_retry_total",
			Help: "Total retried tasklet invocations by step and reason.",
		}, []string{"job_name", "step_name", "reason"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkflow_operation_duration_seconds",
			Help:    "Duration of named operations such as chunks and steps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "step_name", "outcome"}),
	}

	registry.MustRegister(
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepCommitCount,
		r.stepRollbackCount,
		r.taskCounter,
		r.taskCommitCount,
		r.taskSkipCounter,
		r.taskRetryCounter,
		r.operationDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// jobNameFrom reads the job name from the StepExecution carried by ctx.
func jobNameFrom(ctx context.Context) string {
	if se := port.GetStepExecutionFromContext(ctx); se != nil {
		return se.JobName
	}
	return ""
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.JobName, execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.JobName, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus.ExitCode,
	).Observe(duration)
	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordTaskExecution records one tasklet invocation.
func (r *PrometheusRecorder) RecordTaskExecution(ctx context.Context, stepName string, exitCode string) {
	r.taskCounter.WithLabelValues(jobNameFrom(ctx), stepName, exitCode).Inc()
}

// RecordTaskSkip records a skipped invocation.
func (r *PrometheusRecorder) RecordTaskSkip(ctx context.Context, stepName string, reason string) {
	r.taskSkipCounter.WithLabelValues(jobNameFrom(ctx), stepName, reason).Inc()
}

// RecordTaskRetry records a retried invocation.
func (r *PrometheusRecorder) RecordTaskRetry(ctx context.Context, stepName string, reason string) {
	r.taskRetryCounter.WithLabelValues(jobNameFrom(ctx), stepName, reason).Inc()
}

// RecordChunkCommit records chunk commits.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	jobName := jobNameFrom(ctx)
	r.stepCommitCount.WithLabelValues(jobName, stepName).Inc()
	r.taskCommitCount.WithLabelValues(jobName, stepName).Add(float64(count))
}

// RecordChunkRollback records chunk rollbacks.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.stepRollbackCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordDuration records the execution time of a named operation.
// The "step_name" and "outcome" tags become labels; other tags are ignored.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	outcome := tags["outcome"]
	if outcome == "" {
		outcome = tags["status"]
	}
	r.operationDuration.WithLabelValues(name, tags["step_name"], outcome).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
