package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type string
	// Ctx keeps the values of the recording context (such as the current StepExecution) without its cancellation.
	Ctx           context.Context
	StepExecution *model.StepExecution // Snapshot taken when the event was sent.
	StepName      string
	Count         int               // For chunk commit counts
	Reason        string            // For skip and retry reasons, or the exit code of a task execution
	Duration      time.Duration     // For duration metrics
	Tags          map[string]string // For duration metric tags
}

// Metric event type constants
const (
	MetricEventTypeStepStart      = "step_start"
	MetricEventTypeStepEnd        = "step_end"
	MetricEventTypeTaskExecution  = "task_execution"
	MetricEventTypeTaskSkip       = "task_skip"
	MetricEventTypeTaskRetry      = "task_retry"
	MetricEventTypeChunkCommit    = "chunk_commit"
	MetricEventTypeChunkRollback  = "chunk_rollback"
	MetricEventTypeRecordDuration = "record_duration"
)

// DefaultBufferSize is used when no positive buffer size is configured.
const DefaultBufferSize = 100

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine. Events are discarded when the queue is full,
// so the chunk loop never waits on a slow metrics backend.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder // The concrete instance that performs actual metric recording
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder and starts its worker.
// bufferSize: The buffer size for the event queue. If 0 or less, DefaultBufferSize is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

// run is the worker goroutine that reads events from the event queue and processes them with the synchronous recorder.
func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Drain what was queued before the stop signal.
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

// processEvent processes the received metric event.
func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := event.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch event.Type {
	case MetricEventTypeStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.StepExecution)
	case MetricEventTypeStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.StepExecution)
	case MetricEventTypeTaskExecution:
		r.syncRecorder.RecordTaskExecution(ctx, event.StepName, event.Reason)
	case MetricEventTypeTaskSkip:
		r.syncRecorder.RecordTaskSkip(ctx, event.StepName, event.Reason)
	case MetricEventTypeTaskRetry:
		r.syncRecorder.RecordTaskRetry(ctx, event.StepName, event.Reason)
	case MetricEventTypeChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.StepName)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.StepName, event.Duration, event.Tags) // StepName carries the duration name
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after it has processed the events already queued. It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
	})
}

// sendEvent sends an event to the queue, logging a warning if the queue is full.
func (r *AsyncMetricRecorder) sendEvent(ctx context.Context, event MetricEvent, id string) {
	event.Ctx = context.WithoutCancel(ctx)
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, ID: %s). Event discarded.", event.Type, id)
	}
}

// RecordStepStart asynchronously records the start event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepStart, StepExecution: execution.Copy()}, execution.ID)
}

// RecordStepEnd asynchronously records the end event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepEnd, StepExecution: execution.Copy()}, execution.ID)
}

// RecordTaskExecution asynchronously records one tasklet invocation.
func (r *AsyncMetricRecorder) RecordTaskExecution(ctx context.Context, stepName string, exitCode string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeTaskExecution, StepName: stepName, Reason: exitCode}, stepName)
}

// RecordTaskSkip asynchronously records a skipped invocation.
func (r *AsyncMetricRecorder) RecordTaskSkip(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeTaskSkip, StepName: stepName, Reason: reason}, stepName)
}

// RecordTaskRetry asynchronously records a retried invocation.
func (r *AsyncMetricRecorder) RecordTaskRetry(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeTaskRetry, StepName: stepName, Reason: reason}, stepName)
}

// RecordChunkCommit asynchronously records the chunk commit event.
func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkCommit, StepName: stepName, Count: count}, stepName)
}

// RecordChunkRollback asynchronously records the chunk rollback event.
func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkRollback, StepName: stepName}, stepName)
}

// RecordDuration asynchronously records the execution time event of a specific operation.
func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeRecordDuration, StepName: name, Duration: duration, Tags: tags}, name)
}

// Ensures AsyncMetricRecorder implements the metrics.MetricRecorder interface at compile time.
var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is a helper function for use with fx.Decorate.
// When observability.async_metrics is set it wraps the recorder and closes the wrapper on shutdown;
// otherwise the recorder is returned unchanged.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	if !cfg.Chunkflow.Observability.AsyncMetrics {
		return syncRecorder
	}
	asyncRecorder := NewAsyncMetricRecorder(cfg.Chunkflow.Batch.MetricsAsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
