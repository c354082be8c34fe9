package tasklet

import (
	"go.uber.org/fx"
)

// Module provides the StepFactory, the task executor of throttled chunk loops, and the
// ListenerRegistry that listener modules register into.
var Module = fx.Options(
	fx.Provide(NewListenerRegistry),
	fx.Provide(NewTaskExecutor),
	fx.Provide(NewStepFactory),
)
