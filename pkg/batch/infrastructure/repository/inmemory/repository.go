// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores all step metadata in maps within memory, suitable for testing and
// scenarios where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
// Values are copied on the way in and on the way out, so callers never share state with the repository.
type InMemoryJobRepository struct {
	stepInstances  map[string]*model.StepInstance
	instanceKeys   map[string]string // jobName/stepName -> StepInstance ID
	stepExecutions map[string]*model.StepExecution
	executionOrder map[string][]string // StepInstance ID -> StepExecution IDs, oldest first
	mu             sync.RWMutex        // Mutex to protect concurrent access to maps.
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		stepInstances:  make(map[string]*model.StepInstance),
		instanceKeys:   make(map[string]string),
		stepExecutions: make(map[string]*model.StepExecution),
		executionOrder: make(map[string][]string),
	}
}

func instanceKey(jobName, stepName string) string {
	return jobName + "/" + stepName
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
