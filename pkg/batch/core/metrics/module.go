package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op MetricRecorder and Tracer.
// Applications recording metrics use the infrastructure metrics module instead; the two must not be combined.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
