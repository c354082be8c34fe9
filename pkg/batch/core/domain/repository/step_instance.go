package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrStepInstanceNotFound is returned when a StepInstance is not found.
var ErrStepInstanceNotFound = errors.New("step instance not found")

func init() {
	// Register the error type in the registry upon framework startup.
	exception.RegisterErrorType("ErrStepInstanceNotFound", ErrStepInstanceNotFound)
}

// StepInstance defines operations for persisting and retrieving the restartable identity of a step.
type StepInstance interface {
	// CreateStepInstance persists a new StepInstance.
	CreateStepInstance(ctx context.Context, instance *model.StepInstance) error

	// FindStepInstance finds the StepInstance of a step within a job.
	// Returns ErrStepInstanceNotFound if the step has never run.
	FindStepInstance(ctx context.Context, jobName, stepName string) (*model.StepInstance, error)

	// UpdateStepInstance updates restart data and bookkeeping of an existing StepInstance.
	// The update fails with ErrOptimisticLockingFailure if instance.Version is stale; on success Version is incremented.
	UpdateStepInstance(ctx context.Context, instance *model.StepInstance) error
}
