// Package step provides the CounterTasklet of the counter example.
package step

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	configbinder "github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepName is the name of the counter step, and the key of its properties under chunkflow.steps.
const StepName = "counter"

// ErrCounterGlitch is returned for every number that is a multiple of fail_every.
var ErrCounterGlitch = errors.New("counter glitch")

func init() {
	exception.RegisterErrorType("ErrCounterGlitch", ErrCounterGlitch)
}

// CounterTaskletConfig is bound from chunkflow.steps.counter.
type CounterTaskletConfig struct {
	Target    int           `yaml:"target"`     // Target is the last number to count.
	FailEvery int           `yaml:"fail_every"` // FailEvery makes every multiple fail once. 0 disables failures.
	Delay     time.Duration `yaml:"delay"`      // Delay is slept on every invocation.
}

// CounterTasklet counts from 1 to Target, one number per invocation.
// Its position survives restarts, and a failed number is recorded and skipped.
type CounterTasklet struct {
	config CounterTaskletConfig

	mu        sync.Mutex
	position  int
	recovered []int
	skipped   int
}

// NewCounterTasklet creates a CounterTasklet from step properties.
func NewCounterTasklet(properties map[string]interface{}) (*CounterTasklet, error) {
	cfg := CounterTaskletConfig{Target: 10}
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError("counter_tasklet", "Failed to bind properties", err, false, false)
	}
	if cfg.Target <= 0 {
		return nil, fmt.Errorf("target property must be positive, got %d", cfg.Target)
	}
	return &CounterTasklet{config: cfg}, nil
}

// Execute counts the next number.
func (t *CounterTasklet) Execute(ctx context.Context) (model.ExitStatus, error) {
	if t.config.Delay > 0 {
		select {
		case <-time.After(t.config.Delay):
		case <-ctx.Done():
			return model.ExitStatus{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position >= t.config.Target {
		return model.ExitStatusCompleted, nil
	}
	next := t.position + 1
	if t.config.FailEvery > 0 && next%t.config.FailEvery == 0 {
		return model.ExitStatus{}, fmt.Errorf("number %d: %w", next, ErrCounterGlitch)
	}
	t.position = next
	logger.Debugf("CounterTasklet: counted %d/%d", next, t.config.Target)
	if next >= t.config.Target {
		return model.ExitStatusCompleted, nil
	}
	return model.ExitStatusContinuable, nil
}

// Recover records the number that failed.
func (t *CounterTasklet) Recover(ctx context.Context, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recovered = append(t.recovered, t.position+1)
	logger.Warnf("CounterTasklet: recovered number %d: %v", t.position+1, cause)
	return nil
}

// Skip moves past the number that failed.
func (t *CounterTasklet) Skip(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position++
	t.skipped++
	return nil
}

// GetRestartData implements port.Restartable.
func (t *CounterTasklet) GetRestartData() model.ExecutionContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	ec := model.NewExecutionContext()
	ec.Put("position", t.position)
	return ec
}

// RestoreFrom implements port.Restartable.
func (t *CounterTasklet) RestoreFrom(data model.ExecutionContext) error {
	position, ok := data.GetInt("position")
	if !ok {
		return fmt.Errorf("restart data has no position: %v", data)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = position
	logger.Infof("CounterTasklet: resuming after %d", position)
	return nil
}

// GetStatistics implements port.StatisticsProvider.
func (t *CounterTasklet) GetStatistics() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"position": t.position,
		"skipped":  t.skipped,
	}
}

// Recovered returns the numbers passed to Recover so far.
func (t *CounterTasklet) Recovered() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.recovered...)
}
