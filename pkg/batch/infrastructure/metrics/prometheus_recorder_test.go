package metrics_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	inframetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
)

func newRunningExecution() *model.StepExecution {
	se := model.NewStepExecution(model.NewStepInstance("nightly", "counter"))
	se.MarkAsStarted()
	return se
}

func TestPrometheusRecorder_ChunkAndTaskCounters(t *testing.T) {
	recorder := inframetrics.NewPrometheusRecorder(false)
	se := newRunningExecution()
	ctx := port.GetContextWithStepExecution(context.Background(), se)

	recorder.RecordTaskExecution(ctx, "counter", model.ExitCodeContinuable)
	recorder.RecordTaskExecution(ctx, "counter", model.ExitCodeContinuable)
	recorder.RecordTaskExecution(ctx, "counter", "ERROR")
	recorder.RecordTaskSkip(ctx, "counter", "ErrBadRecord")
	recorder.RecordTaskRetry(ctx, "counter", "ErrBadRecord")
	recorder.RecordChunkCommit(ctx, "counter", 2)
	recorder.RecordChunkCommit(ctx, "counter", 1)
	recorder.RecordChunkRollback(ctx, "counter")

	expected := `
# HELP chunkflow_chunk_commit_total Total chunk commits by step.
# TYPE chunkflow_chunk_commit_total counter
chunkflow_chunk_commit_total{job_name="nightly",step_name="counter"} 2
# HELP chunkflow_chunk_rollback_total Total chunk rollbacks by step.
# TYPE chunkflow_chunk_rollback_total counter
chunkflow_chunk_rollback_total{job_name="nightly",step_name="counter"} 1
# HELP chunkflow_task_committed_total Total tasklet invocations committed by step.
# TYPE chunkflow_task_committed_total counter
chunkflow_task_committed_total{job_name="nightly",step_name="counter"} 3
# HELP chunkflow_task_executions_total Total tasklet invocations by step and exit code.
# TYPE chunkflow_task_executions_total counter
chunkflow_task_executions_total{exit_code="CONTINUABLE",job_name="nightly",step_name="counter"} 2
chunkflow_task_executions_total{exit_code="ERROR",job_name="nightly",step_name="counter"} 1
`
	err := testutil.GatherAndCompare(recorder.GetRegistry(), strings.NewReader(expected),
		"chunkflow_chunk_commit_total",
		"chunkflow_chunk_rollback_total",
		"chunkflow_task_committed_total",
		"chunkflow_task_executions_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(recorder.GetRegistry(), "chunkflow_task_skip_total", "chunkflow_task_retry_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusRecorder_StepLifecycle(t *testing.T) {
	recorder := inframetrics.NewPrometheusRecorder(false)
	se := newRunningExecution()
	ctx := context.Background()

	recorder.RecordStepStart(ctx, se)
	se.MarkAsCompleted(model.ExitStatusCompleted)
	recorder.RecordStepEnd(ctx, se)

	expected := `
# HELP chunkflow_step_status_total Total number of step executions by status.
# TYPE chunkflow_step_status_total counter
chunkflow_step_status_total{job_name="nightly",status="COMPLETED",step_name="counter"} 1
chunkflow_step_status_total{job_name="nightly",status="STARTED",step_name="counter"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.GetRegistry(), strings.NewReader(expected), "chunkflow_step_status_total"))

	count, err := testutil.GatherAndCount(recorder.GetRegistry(), "chunkflow_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusRecorder_RecordDurationWithoutStepContext(t *testing.T) {
	recorder := inframetrics.NewPrometheusRecorder(false)

	recorder.RecordDuration(context.Background(), "chunk", 20*time.Millisecond, map[string]string{"step_name": "counter", "outcome": "commit"})
	recorder.RecordDuration(context.Background(), "step", time.Second, map[string]string{"step_name": "counter", "status": "FAILED"})
	recorder.RecordChunkRollback(context.Background(), "counter")

	count, err := testutil.GatherAndCount(recorder.GetRegistry(), "chunkflow_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP chunkflow_chunk_rollback_total Total chunk rollbacks by step.
# TYPE chunkflow_chunk_rollback_total counter
chunkflow_chunk_rollback_total{job_name="",step_name="counter"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.GetRegistry(), strings.NewReader(expected), "chunkflow_chunk_rollback_total"))
}
