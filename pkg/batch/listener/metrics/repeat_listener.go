package metrics

import (
	"context"
	"strconv"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
)

const (
	startedAtAttribute = "metrics.startedAt"
	outcomeAttribute   = "metrics.outcome"
)

// RepeatMetricsListener records the duration and iteration count of every loop it is attached to.
// Durations are reported under the name "repeat" with the tags step_name, outcome and iterations.
type RepeatMetricsListener struct {
	repeat.ListenerSupport
	recorder metrics.MetricRecorder
	stepName string
}

// NewRepeatMetricsListener creates a listener reporting to recorder.
func NewRepeatMetricsListener(recorder metrics.MetricRecorder, stepName string) *RepeatMetricsListener {
	return &RepeatMetricsListener{recorder: recorder, stepName: stepName}
}

func (l *RepeatMetricsListener) Open(ctx context.Context, rc *repeat.Context) error {
	rc.SetAttribute(startedAtAttribute, time.Now())
	return nil
}

func (l *RepeatMetricsListener) OnError(ctx context.Context, rc *repeat.Context, err error) error {
	rc.SetAttribute(outcomeAttribute, "error")
	return nil
}

func (l *RepeatMetricsListener) Close(ctx context.Context, rc *repeat.Context) error {
	startedAt, ok := rc.GetAttribute(startedAtAttribute)
	if !ok {
		return nil
	}
	outcome := "complete"
	if v, ok := rc.GetAttribute(outcomeAttribute); ok {
		outcome = v.(string)
	}
	l.recorder.RecordDuration(ctx, "repeat", time.Since(startedAt.(time.Time)), map[string]string{
		"step_name":  l.stepName,
		"outcome":    outcome,
		"iterations": strconv.Itoa(rc.StartedCount()),
	})
	return nil
}

// After is a no-op; per-invocation results are recorded by the step itself.
func (l *RepeatMetricsListener) After(ctx context.Context, rc *repeat.Context, result model.ExitStatus) error {
	return nil
}

var _ repeat.Listener = (*RepeatMetricsListener)(nil)
