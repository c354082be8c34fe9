package metrics

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerName is the name to list under batch.listeners.
const ListenerName = "metrics"

// NewMetricsListenerBuilder creates the builder of the metrics listeners.
func NewMetricsListenerBuilder(recorder metrics.MetricRecorder) tasklet.ListenerBuilder {
	return func(_ *config.Config, stepName string) ([]interface{}, error) {
		return []interface{}{NewRepeatMetricsListener(recorder, stepName)}, nil
	}
}

// RegisterMetricsListeners registers the metrics listener builder.
func RegisterMetricsListeners(registry *tasklet.ListenerRegistry, recorder metrics.MetricRecorder) {
	registry.Register(ListenerName, NewMetricsListenerBuilder(recorder))
	logger.Debugf("Metrics listeners registered.")
}

// Module aggregates the metrics listener components.
var Module = fx.Options(
	// Wraps the configured MetricRecorder asynchronously when observability.async_metrics is set.
	fx.Decorate(NewAsyncMetricRecorderWrapper),
	fx.Invoke(RegisterMetricsListeners),
)
