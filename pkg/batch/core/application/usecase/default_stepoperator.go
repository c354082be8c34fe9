package usecase

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const operatorModule = "step_operator"

// DefaultStepOperator is the default implementation of the StepOperator interface.
// It acts on the executions running in a SimpleStepLauncher.
type DefaultStepOperator struct {
	jobRepository repository.JobRepository
	stepLauncher  *SimpleStepLauncher
}

// Verify that DefaultStepOperator implements the StepOperator interface.
var _ StepOperator = (*DefaultStepOperator)(nil)

// NewDefaultStepOperator creates a new instance of DefaultStepOperator.
func NewDefaultStepOperator(repo repository.JobRepository, launcher *SimpleStepLauncher) *DefaultStepOperator {
	return &DefaultStepOperator{
		jobRepository: repo,
		stepLauncher:  launcher,
	}
}

// Stop flags the running execution as terminate-only. The step loop checks the flag before every chunk.
func (o *DefaultStepOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("StepOperator: Stop method called. Execution ID: %s", executionID)

	execution, ok := o.stepLauncher.GetRunningExecution(executionID)
	if !ok {
		logger.Warnf("StepExecution (ID: %s) is not running. It may have already finished.", executionID)
		return exception.NewBatchErrorf(operatorModule, "Stop processing error: StepExecution (ID: %s) is not running", executionID)
	}
	execution.SetTerminateOnly()

	logger.Infof("Sent stop request for StepExecution (ID: %s).", executionID)
	return nil
}

// Interrupt cancels the context of the running execution.
func (o *DefaultStepOperator) Interrupt(ctx context.Context, executionID string) error {
	logger.Infof("StepOperator: Interrupt method called. Execution ID: %s", executionID)

	cancelFunc, ok := o.stepLauncher.GetCancelFunc(executionID)
	if !ok {
		logger.Warnf("No CancelFunc found for StepExecution (ID: %s). The step may have already finished.", executionID)
		return exception.NewBatchErrorf(operatorModule, "Interrupt processing error: CancelFunc for StepExecution (ID: %s) not found", executionID)
	}
	cancelFunc()

	logger.Infof("Sent interrupt signal for StepExecution (ID: %s).", executionID)
	return nil
}

// Restart launches step again if its last execution FAILED or was STOPPED.
func (o *DefaultStepOperator) Restart(ctx context.Context, step port.Step) (*model.StepExecution, error) {
	key := stepKey(step.JobName(), step.StepName())
	logger.Infof("StepOperator: Restart method called. Step: %s", key)

	instance, err := o.jobRepository.FindStepInstance(ctx, step.JobName(), step.StepName())
	if errors.Is(err, repository.ErrStepInstanceNotFound) {
		return nil, exception.NewBatchErrorf(operatorModule, "Restart processing error: Step '%s' has never run", key)
	}
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Restart processing error: Failed to load StepInstance of '%s'", key), err, false, false)
	}

	if instance.Status != model.BatchStatusFailed && instance.Status != model.BatchStatusStopped {
		return nil, exception.NewBatchErrorf(operatorModule, "Restart processing error: Step '%s' is not in a restartable state (current status: %s)", key, instance.Status)
	}
	logger.Infof("Step '%s' is in a restartable state (%s). Last execution ID: %s", key, instance.Status, instance.LastExecutionID)

	execution, err := o.stepLauncher.Launch(ctx, step)
	if err != nil {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("Failed to restart Step '%s'", key), err, false, false)
	}
	logger.Infof("Restart of Step '%s' started. New execution ID: %s", key, execution.ID)
	return execution, nil
}
