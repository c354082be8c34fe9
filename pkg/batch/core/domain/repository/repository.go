package repository

import (
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrOptimisticLockingFailure is returned when an update is based on a stale Version.
var ErrOptimisticLockingFailure = exception.ErrOptimisticLockingFailure

// JobRepository persists step instances and their executions.
// It embeds smaller repository interfaces to separate concerns.
//
// Implementations join the transaction bound to the context (see tx.FromContext) when they can,
// so that restart data and the execution record commit together with the chunk.
type JobRepository interface {
	StepInstance  // Embeds the StepInstance interface (definition in step_instance.go)
	StepExecution // Embeds the StepExecution interface (definition in step_execution.go)

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
