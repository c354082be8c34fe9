// Package inmemory provides an in-memory implementation of the JobRepository interface.
// This module integrates the in-memory repository into the application's dependency graph using Fx.
package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// Module is an Fx module that provides InMemoryJobRepository as a repository.JobRepository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
	// Nothing to commit for an in-memory repository: chunks run in resourceless transactions.
	fx.Provide(
		fx.Annotate(
			tx.NewResourcelessTransactionManager,
			fx.As(new(tx.TransactionManager)),
		),
	),
)
