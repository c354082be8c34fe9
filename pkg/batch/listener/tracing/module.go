package tracing

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerName is the name to list under batch.listeners.
const ListenerName = "tracing"

// NewTracingListenerBuilder creates the builder of the tracing listener.
func NewTracingListenerBuilder(tracer metrics.Tracer) tasklet.ListenerBuilder {
	return func(_ *config.Config, stepName string) ([]interface{}, error) {
		return []interface{}{NewTracingListener(tracer, stepName)}, nil
	}
}

// RegisterTracingListeners registers the tracing listener builder.
func RegisterTracingListeners(registry *tasklet.ListenerRegistry, tracer metrics.Tracer) {
	registry.Register(ListenerName, NewTracingListenerBuilder(tracer))
	logger.Debugf("Tracing listeners registered.")
}

// Module registers the tracing listener with the ListenerRegistry.
var Module = fx.Options(
	fx.Invoke(RegisterTracingListeners),
)
