package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const launcherModule = "step_launcher"

// launchedExecution tracks one execution started by SimpleStepLauncher.
type launchedExecution struct {
	key       string
	execution *model.StepExecution
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// SimpleStepLauncher implements StepLauncher for local execution. Each execution runs on its own goroutine.
// At most one execution of a given job/step pair runs at a time.
type SimpleStepLauncher struct {
	jobRepository repository.JobRepository

	mu         sync.Mutex
	executions map[string]*launchedExecution // by execution ID, until Wait returns
	active     map[string]string             // job/step key to running execution ID
}

// Verify that SimpleStepLauncher implements the StepLauncher interface.
var _ StepLauncher = (*SimpleStepLauncher)(nil)

// NewSimpleStepLauncher creates a new SimpleStepLauncher.
func NewSimpleStepLauncher(repo repository.JobRepository) *SimpleStepLauncher {
	return &SimpleStepLauncher{
		jobRepository: repo,
		executions:    make(map[string]*launchedExecution),
		active:        make(map[string]string),
	}
}

func stepKey(jobName, stepName string) string {
	return jobName + "/" + stepName
}

// Launch starts step on a new goroutine. See StepLauncher.
func (l *SimpleStepLauncher) Launch(ctx context.Context, step port.Step) (*model.StepExecution, error) {
	jobName, stepName := step.JobName(), step.StepName()
	key := stepKey(jobName, stepName)
	logger.Infof("Launching Step '%s' of Job '%s'.", stepName, jobName)

	instance, err := l.jobRepository.FindStepInstance(ctx, jobName, stepName)
	switch {
	case errors.Is(err, repository.ErrStepInstanceNotFound):
		// The step persists the instance when it opens.
		instance = model.NewStepInstance(jobName, stepName)
	case err != nil:
		return nil, exception.NewBatchError(launcherModule, fmt.Sprintf("Failed to load StepInstance of '%s'", key), err, false, false)
	case instance.Status == model.BatchStatusStarted:
		logger.Warnf("StepInstance (ID: %s) of '%s' is still marked STARTED; its last execution (ID: %s) did not end cleanly.", instance.ID, key, instance.LastExecutionID)
	}
	execution := model.NewStepExecution(instance)

	stepCtx, cancel := context.WithCancel(ctx)
	launched := &launchedExecution{
		key:       key,
		execution: execution,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	l.mu.Lock()
	if runningID, ok := l.active[key]; ok {
		l.mu.Unlock()
		cancel()
		return nil, exception.NewBatchErrorf(launcherModule, "Step '%s' is already running (Execution ID: %s). Concurrent launch is not allowed.", key, runningID)
	}
	l.active[key] = execution.ID
	l.executions[execution.ID] = launched
	l.mu.Unlock()
	logger.Debugf("Registered CancelFunc for StepExecution (ID: %s).", execution.ID)

	go l.run(stepCtx, step, launched)

	logger.Infof("Started Step '%s' (Execution ID: %s, Step Instance ID: %s).", key, execution.ID, execution.StepInstanceID)
	return execution, nil
}

func (l *SimpleStepLauncher) run(ctx context.Context, step port.Step, launched *launchedExecution) {
	defer func() {
		if r := recover(); r != nil {
			launched.err = exception.FromPanic(launcherModule, r)
			logger.Errorf("%v", launched.err)
		}
		launched.cancel()
		l.mu.Lock()
		delete(l.active, launched.key)
		l.mu.Unlock()
		close(launched.done)
	}()
	launched.err = step.Execute(ctx, launched.execution)
}

// Wait blocks until the execution ends and returns the error its step returned. See StepLauncher.
func (l *SimpleStepLauncher) Wait(ctx context.Context, executionID string) error {
	l.mu.Lock()
	launched, ok := l.executions[executionID]
	l.mu.Unlock()
	if !ok {
		return exception.NewBatchErrorf(launcherModule, "StepExecution (ID: %s) was not launched by this launcher or was already waited for", executionID)
	}

	select {
	case <-launched.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	delete(l.executions, executionID)
	l.mu.Unlock()
	return launched.err
}

// Run launches step and waits for it to end.
func (l *SimpleStepLauncher) Run(ctx context.Context, step port.Step) (*model.StepExecution, error) {
	execution, err := l.Launch(ctx, step)
	if err != nil {
		return nil, err
	}
	return execution, l.Wait(ctx, execution.ID)
}

// GetRunningExecution returns the execution with the given ID if it is still running.
func (l *SimpleStepLauncher) GetRunningExecution(executionID string) (*model.StepExecution, bool) {
	launched, ok := l.lookupRunning(executionID)
	if !ok {
		return nil, false
	}
	return launched.execution, true
}

// GetCancelFunc retrieves the cancel function of a running execution.
func (l *SimpleStepLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	launched, ok := l.lookupRunning(executionID)
	if !ok {
		return nil, false
	}
	return launched.cancel, true
}

func (l *SimpleStepLauncher) lookupRunning(executionID string) (*launchedExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	launched, ok := l.executions[executionID]
	if !ok {
		return nil, false
	}
	select {
	case <-launched.done:
		return nil, false
	default:
		return launched, true
	}
}
