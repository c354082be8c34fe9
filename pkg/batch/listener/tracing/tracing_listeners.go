package tracing

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// TracingListener adds retry and skip events to the current span and records loop errors on it.
// Step and chunk spans themselves are opened by the step.
type TracingListener struct {
	repeat.ListenerSupport
	tracer   metrics.Tracer
	stepName string
}

func NewTracingListener(tracer metrics.Tracer, stepName string) *TracingListener {
	return &TracingListener{tracer: tracer, stepName: stepName}
}

func (l *TracingListener) OnRetry(ctx context.Context, attempt int, err error) {
	l.tracer.RecordEvent(ctx, "task_retry", map[string]interface{}{
		"step_name": l.stepName,
		"attempt":   attempt,
		"error":     exception.ExtractErrorMessage(err),
	})
}

func (l *TracingListener) OnSkip(ctx context.Context, err error) {
	l.tracer.RecordEvent(ctx, "task_skip", map[string]interface{}{
		"step_name": l.stepName,
		"error":     exception.ExtractErrorMessage(err),
	})
}

// OnError records an iteration error of the chunk loop on the chunk span.
func (l *TracingListener) OnError(ctx context.Context, rc *repeat.Context, err error) error {
	l.tracer.RecordError(ctx, l.stepName, err)
	return nil
}

var (
	_ port.RetryListener = (*TracingListener)(nil)
	_ port.SkipListener  = (*TracingListener)(nil)
	_ repeat.Listener    = (*TracingListener)(nil)
)
