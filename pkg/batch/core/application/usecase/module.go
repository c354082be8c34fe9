package usecase

import (
	"go.uber.org/fx"
)

// Module is the Fx module for StepLauncher, StepOperator, and StepExplorer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewSimpleStepExplorer,
		fx.As(new(StepExplorer)),
	)),
	// The operator acts on the concrete launcher's running executions.
	fx.Provide(NewSimpleStepLauncher),
	fx.Provide(func(launcher *SimpleStepLauncher) StepLauncher { return launcher }),
	fx.Provide(fx.Annotate(
		NewDefaultStepOperator,
		fx.As(new(StepOperator)),
	)),
)
