package logging

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerName is the name to list under batch.listeners.
const ListenerName = "logging"

// NewLoggingListenerBuilder creates the builder of the logging listeners.
func NewLoggingListenerBuilder() tasklet.ListenerBuilder {
	return func(_ *config.Config, stepName string) ([]interface{}, error) {
		return []interface{}{
			NewLoggingStepListener(stepName),
			NewRepeatLoggingListener(stepName),
		}, nil
	}
}

// RegisterLoggingListeners registers the logging listener builder.
func RegisterLoggingListeners(registry *tasklet.ListenerRegistry) {
	registry.Register(ListenerName, NewLoggingListenerBuilder())
	logger.Debugf("Logging listeners registered.")
}

// Module registers the logging listeners with the ListenerRegistry.
var Module = fx.Options(
	fx.Invoke(RegisterLoggingListeners),
)
