package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveOrUpdateStepExecution inserts a new StepExecution or updates an existing one.
func (r *InMemoryJobRepository) SaveOrUpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.stepExecutions[stepExecution.ID]
	if !exists {
		r.stepExecutions[stepExecution.ID] = stepExecution.Copy()
		r.executionOrder[stepExecution.StepInstanceID] = append(r.executionOrder[stepExecution.StepInstanceID], stepExecution.ID)
		return nil
	}
	if stored.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("StepExecution %s was updated concurrently (stored version %d, given %d)", stepExecution.ID, stored.Version, stepExecution.Version), nil)
	}
	stepExecution.Version++
	r.stepExecutions[stepExecution.ID] = stepExecution.Copy()
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
// It returns an error if the StepExecution is not found.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepExecution, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	// Deep copy to prevent external modification of internal state
	return stepExecution.Copy(), nil
}

// FindStepExecutionsByStepInstance returns all executions of an instance, oldest first.
func (r *InMemoryJobRepository) FindStepExecutionsByStepInstance(ctx context.Context, stepInstanceID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.executionOrder[stepInstanceID]
	result := make([]*model.StepExecution, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.stepExecutions[id].Copy())
	}
	return result, nil
}

// Verify interfaces
var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
