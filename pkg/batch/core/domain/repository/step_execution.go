package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrStepExecutionNotFound is the error returned when StepExecution is not found.
var ErrStepExecutionNotFound = errors.New("step execution not found")

func init() {
	// Register the error type in the registry upon framework startup.
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

type StepExecution interface {
	// SaveOrUpdateStepExecution inserts a new StepExecution or updates an existing one.
	// Updates fail with ErrOptimisticLockingFailure if stepExecution.Version is stale; on success Version is incremented.
	SaveOrUpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindStepExecutionByID finds a StepExecution by its ID.
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)

	// FindStepExecutionsByStepInstance returns all executions of an instance, oldest first.
	FindStepExecutionsByStepInstance(ctx context.Context, stepInstanceID string) ([]*model.StepExecution, error)
}
