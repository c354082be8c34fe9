package step

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewCounterTaskletFromConfig creates the tasklet from chunkflow.steps.counter.
func NewCounterTaskletFromConfig(cfg *config.Config) (*CounterTasklet, error) {
	return NewCounterTasklet(cfg.StepProperties(StepName))
}

// Module provides the CounterTasklet.
var Module = fx.Options(
	fx.Provide(NewCounterTaskletFromConfig),
)
