package notification

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerName is the name to list under batch.listeners.
const ListenerName = "notification"

// NewNotificationListenerBuilder creates the builder of the notification listener.
func NewNotificationListenerBuilder(notifier Notifier) tasklet.ListenerBuilder {
	return func(_ *config.Config, _ string) ([]interface{}, error) {
		return []interface{}{NewNotificationListener(notifier)}, nil
	}
}

// RegisterNotificationListener registers the notification listener builder.
func RegisterNotificationListener(registry *tasklet.ListenerRegistry, notifier Notifier) {
	registry.Register(ListenerName, NewNotificationListenerBuilder(notifier))
	logger.Debugf("Notification listener registered.")
}

// Module provides notification-related components.
var Module = fx.Options(
	// Provides a concrete implementation of Notifier. Applications may fx.Decorate it.
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(Notifier)),
	)),
	fx.Invoke(RegisterNotificationListener),
)
