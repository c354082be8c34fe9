package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/tracing"
)

// Module registers every listener builder of the framework with the step ListenerRegistry.
// Steps attach the ones named under batch.listeners.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	tracing.Module,
	notification.Module,
)
