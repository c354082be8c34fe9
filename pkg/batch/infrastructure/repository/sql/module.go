package sql

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Module provides the SQL JobRepository and a transaction manager on the same connection,
// so chunk transactions cover the metadata writes. It expects gormadapter.Module.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			func(resolver database.DBConnectionResolver, cfg *config.Config) *SQLJobRepository {
				return NewSQLJobRepository(resolver, cfg.Chunkflow.Infrastructure.JobRepositoryDBRef)
			},
			fx.As(new(repository.JobRepository)),
		),
		fx.Annotate(
			func(resolver database.DBConnectionResolver, cfg *config.Config) *gormadapter.GormTransactionManager {
				return gormadapter.NewGormTransactionManager(resolver, cfg.Chunkflow.Infrastructure.JobRepositoryDBRef)
			},
			fx.As(new(tx.TransactionManager)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, resolver database.DBConnectionResolver, cfg *config.Config) {
		if !cfg.Chunkflow.Infrastructure.MigrateOnStart {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				conn, err := resolver.ResolveDBConnection(ctx, cfg.Chunkflow.Infrastructure.JobRepositoryDBRef)
				if err != nil {
					return err
				}
				return Migrate(ctx, conn)
			},
		})
	}),
)
