package listener

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepCompletionSignaler is a StepExecutionListener that closes a channel when the step ends,
// whatever its status.
type StepCompletionSignaler struct {
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	final *model.StepExecution
}

// NewStepCompletionSignaler creates a new instance of StepCompletionSignaler.
func NewStepCompletionSignaler() *StepCompletionSignaler {
	return &StepCompletionSignaler{done: make(chan struct{})}
}

// Done returns the channel closed when the step ends.
func (l *StepCompletionSignaler) Done() <-chan struct{} {
	return l.done
}

// Final returns a snapshot of the execution as it ended, or nil before Done is closed.
func (l *StepCompletionSignaler) Final() *model.StepExecution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.final
}

func (l *StepCompletionSignaler) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {}

// AfterStep records the final state and closes the channel. Later calls are ignored.
func (l *StepCompletionSignaler) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	l.once.Do(func() {
		l.mu.Lock()
		l.final = stepExecution.Copy()
		l.mu.Unlock()
		logger.Infof("StepCompletionSignaler: Step '%s' (ID: %s) ended with %s. Closing done channel.", stepExecution.StepName, stepExecution.ID, stepExecution.Status)
		close(l.done)
	})
}

// Verify that StepCompletionSignaler implements the port.StepExecutionListener interface.
var _ port.StepExecutionListener = (*StepCompletionSignaler)(nil)
