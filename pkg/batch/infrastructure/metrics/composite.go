package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// CompositeRecorder forwards every event to each of its recorders in order.
type CompositeRecorder []metrics.MetricRecorder

func (c CompositeRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepStart(ctx, execution)
	}
}

func (c CompositeRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c {
		r.RecordStepEnd(ctx, execution)
	}
}

func (c CompositeRecorder) RecordTaskExecution(ctx context.Context, stepName string, exitCode string) {
	for _, r := range c {
		r.RecordTaskExecution(ctx, stepName, exitCode)
	}
}

func (c CompositeRecorder) RecordTaskSkip(ctx context.Context, stepName string, reason string) {
	for _, r := range c {
		r.RecordTaskSkip(ctx, stepName, reason)
	}
}

func (c CompositeRecorder) RecordTaskRetry(ctx context.Context, stepName string, reason string) {
	for _, r := range c {
		r.RecordTaskRetry(ctx, stepName, reason)
	}
}

func (c CompositeRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	for _, r := range c {
		r.RecordChunkCommit(ctx, stepName, count)
	}
}

func (c CompositeRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	for _, r := range c {
		r.RecordChunkRollback(ctx, stepName)
	}
}

func (c CompositeRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range c {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ metrics.MetricRecorder = CompositeRecorder(nil)
