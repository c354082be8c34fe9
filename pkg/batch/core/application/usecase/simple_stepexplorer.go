package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const explorerModule = "step_explorer"

// SimpleStepExplorer is a simple implementation of the StepExplorer interface.
// It queries step metadata using a JobRepository.
type SimpleStepExplorer struct {
	jobRepository repository.JobRepository
}

// Verify that SimpleStepExplorer implements the StepExplorer interface.
var _ StepExplorer = (*SimpleStepExplorer)(nil)

// NewSimpleStepExplorer creates a new instance of SimpleStepExplorer.
func NewSimpleStepExplorer(repo repository.JobRepository) *SimpleStepExplorer {
	return &SimpleStepExplorer{jobRepository: repo}
}

// GetStepInstance retrieves the instance of a step within a job.
func (e *SimpleStepExplorer) GetStepInstance(ctx context.Context, jobName, stepName string) (*model.StepInstance, error) {
	logger.Debugf("StepExplorer: GetStepInstance method called. Step: %s", stepKey(jobName, stepName))
	instance, err := e.jobRepository.FindStepInstance(ctx, jobName, stepName)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepInstance of '%s'", stepKey(jobName, stepName)), err, false, false)
	}
	return instance, nil
}

// GetStepExecution retrieves a StepExecution by its ID.
func (e *SimpleStepExplorer) GetStepExecution(ctx context.Context, executionID string) (*model.StepExecution, error) {
	logger.Debugf("StepExplorer: GetStepExecution method called. Execution ID: %s", executionID)
	execution, err := e.jobRepository.FindStepExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepExecution (ID: %s)", executionID), err, false, false)
	}
	return execution, nil
}

// GetStepExecutions retrieves all executions of a step, oldest first. A step that never ran has none.
func (e *SimpleStepExplorer) GetStepExecutions(ctx context.Context, jobName, stepName string) ([]*model.StepExecution, error) {
	key := stepKey(jobName, stepName)
	logger.Debugf("StepExplorer: GetStepExecutions method called. Step: %s", key)

	instance, err := e.jobRepository.FindStepInstance(ctx, jobName, stepName)
	if errors.Is(err, repository.ErrStepInstanceNotFound) {
		logger.Warnf("StepInstance of '%s' not found.", key)
		return []*model.StepExecution{}, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepInstance of '%s'", key), err, false, false)
	}

	executions, err := e.jobRepository.FindStepExecutionsByStepInstance(ctx, instance.ID)
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepExecutions of StepInstance (ID: %s)", instance.ID), err, false, false)
	}
	logger.Debugf("Retrieved %d StepExecutions of StepInstance (ID: %s).", len(executions), instance.ID)
	return executions, nil
}

// GetLastStepExecution retrieves the latest execution of a step, or nil if it never ran.
func (e *SimpleStepExplorer) GetLastStepExecution(ctx context.Context, jobName, stepName string) (*model.StepExecution, error) {
	key := stepKey(jobName, stepName)
	logger.Debugf("StepExplorer: GetLastStepExecution method called. Step: %s", key)

	instance, err := e.jobRepository.FindStepInstance(ctx, jobName, stepName)
	if errors.Is(err, repository.ErrStepInstanceNotFound) {
		logger.Warnf("Latest StepExecution of '%s' not found.", key)
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError(explorerModule, fmt.Sprintf("Failed to retrieve StepInstance of '%s'", key), err, false, false)
	}
	if instance.LastExecutionID == "" {
		return nil, nil
	}
	return e.GetStepExecution(ctx, instance.LastExecutionID)
}
