package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Module provides the connection resolver and closes its pool when the application stops.
// Dialects must be enabled by blank-importing the sqlite, mysql or postgres sub package.
var Module = fx.Options(
	fx.Provide(
		NewGormDBConnectionResolver,
		func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Debugf("Closing database connections.")
				return r.CloseAll()
			},
		})
	}),
)
