package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// CreateStepInstance persists a new StepInstance.
// It returns an error if an instance with the same ID, or for the same job and step, already exists.
func (r *InMemoryJobRepository) CreateStepInstance(ctx context.Context, instance *model.StepInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepInstances[instance.ID]; exists {
		return fmt.Errorf("StepInstance with ID %s already exists", instance.ID)
	}
	key := instanceKey(instance.JobName, instance.StepName)
	if _, exists := r.instanceKeys[key]; exists {
		return fmt.Errorf("StepInstance for %s already exists", key)
	}
	r.stepInstances[instance.ID] = instance.Copy()
	r.instanceKeys[key] = instance.ID
	return nil
}

// FindStepInstance finds the StepInstance of a step within a job.
func (r *InMemoryJobRepository) FindStepInstance(ctx context.Context, jobName, stepName string) (*model.StepInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.instanceKeys[instanceKey(jobName, stepName)]
	if !ok {
		return nil, repository.ErrStepInstanceNotFound
	}
	return r.stepInstances[id].Copy(), nil
}

// UpdateStepInstance updates an existing StepInstance with an optimistic version check.
func (r *InMemoryJobRepository) UpdateStepInstance(ctx context.Context, instance *model.StepInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.stepInstances[instance.ID]
	if !exists {
		return fmt.Errorf("StepInstance with ID %s not found for update: %w", instance.ID, repository.ErrStepInstanceNotFound)
	}
	if stored.Version != instance.Version {
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("StepInstance %s was updated concurrently (stored version %d, given %d)", instance.ID, stored.Version, instance.Version), nil)
	}
	instance.Version++
	instance.LastUpdated = time.Now()
	r.stepInstances[instance.ID] = instance.Copy()
	return nil
}
