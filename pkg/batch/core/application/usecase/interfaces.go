package usecase

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// StepLauncher starts step executions.
type StepLauncher interface {
	// Launch starts the step in the background and returns its new execution.
	// The error returned here is an error of the launch itself, not of the step.
	// The execution belongs to the running step until Wait returns.
	Launch(ctx context.Context, step port.Step) (*model.StepExecution, error)

	// Wait blocks until the execution launched with Launch ends and returns the step's error.
	Wait(ctx context.Context, executionID string) error

	// Run launches the step and waits for it.
	Run(ctx context.Context, step port.Step) (*model.StepExecution, error)
}

// StepOperator performs operations on launched step executions.
type StepOperator interface {
	// Stop flags the execution terminate-only. The step ends as STOPPED at its next interruption check;
	// chunks already committed stay committed.
	Stop(ctx context.Context, executionID string) error

	// Interrupt cancels the execution's context, so a tasklet blocked on it returns at once.
	// The current chunk rolls back and the step ends as STOPPED.
	Interrupt(ctx context.Context, executionID string) error

	// Restart launches a new execution of a step whose last execution FAILED or was STOPPED.
	// The step resumes from the restart data saved by its last committed chunk.
	Restart(ctx context.Context, step port.Step) (*model.StepExecution, error)
}

// StepExplorer queries step execution metadata.
type StepExplorer interface {
	// GetStepInstance retrieves the instance of a step within a job.
	GetStepInstance(ctx context.Context, jobName, stepName string) (*model.StepInstance, error)

	// GetStepExecution retrieves a StepExecution by its ID.
	GetStepExecution(ctx context.Context, executionID string) (*model.StepExecution, error)

	// GetStepExecutions retrieves all executions of a step, oldest first.
	GetStepExecutions(ctx context.Context, jobName, stepName string) ([]*model.StepExecution, error)

	// GetLastStepExecution retrieves the latest execution of a step.
	GetLastStepExecution(ctx context.Context, jobName, stepName string) (*model.StepExecution, error)
}
