package tasklet

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	retry "github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	skip "github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// FaultTolerantInvoker decorates a single tasklet invocation.
//
// A failed invocation is first retried while the retry policy allows. If it still fails and the
// tasklet is both Recoverable and Skippable, and the skip policy grants a skip, Recover runs in a new,
// independent transaction and then Skip is called. The original error is always returned unchanged,
// so the chunk transaction still rolls back.
type FaultTolerantInvoker struct {
	stepName         string
	tasklet          port.Tasklet
	caps             Capabilities
	retryPolicy      retry.RetryPolicy
	skipPolicy       skip.SkipPolicy
	recoveryTemplate *tx.Template
	retryListeners   []port.RetryListener
	skipListeners    []port.SkipListener
	metricRecorder   metrics.MetricRecorder
	tracer           metrics.Tracer
}

// NewFaultTolerantInvoker creates an invoker. retryPolicy may be nil (no retry); a nil skipPolicy
// grants a skip for every error except interruptions.
func NewFaultTolerantInvoker(
	stepName string,
	t port.Tasklet,
	caps Capabilities,
	txManager tx.TransactionManager,
	retryPolicy retry.RetryPolicy,
	skipPolicy skip.SkipPolicy,
) *FaultTolerantInvoker {
	if skipPolicy == nil {
		skipPolicy = &skip.AlwaysSkipPolicy{}
	}
	return &FaultTolerantInvoker{
		stepName:         stepName,
		tasklet:          t,
		caps:             caps,
		retryPolicy:      retryPolicy,
		skipPolicy:       skipPolicy,
		recoveryTemplate: tx.NewTemplate(txManager, tx.PropagationRequiresNew, nil),
		metricRecorder:   metrics.NewNoOpMetricRecorder(),
		tracer:           metrics.NewNoOpTracer(),
	}
}

// SetListeners sets the retry and skip listeners.
func (i *FaultTolerantInvoker) SetListeners(retryListeners []port.RetryListener, skipListeners []port.SkipListener) {
	i.retryListeners = retryListeners
	i.skipListeners = skipListeners
}

// SetMetrics sets the metric recorder and tracer.
func (i *FaultTolerantInvoker) SetMetrics(recorder metrics.MetricRecorder, tracer metrics.Tracer) {
	if recorder != nil {
		i.metricRecorder = recorder
	}
	if tracer != nil {
		i.tracer = tracer
	}
}

// Invoke runs the tasklet once, applying retry, recovery and skip. Retries and skips are counted
// on contribution.
func (i *FaultTolerantInvoker) Invoke(ctx context.Context, contribution *model.Contribution) (model.ExitStatus, error) {
	attempt := 0
	for {
		status, err := i.tasklet.Execute(ctx)
		if err == nil {
			return status, nil
		}
		if !i.shouldRetry(err, attempt) {
			i.recoverAndSkip(ctx, contribution, err)
			return model.ExitStatus{}, err
		}

		attempt++
		contribution.IncrementRetryCount()
		i.metricRecorder.RecordTaskRetry(ctx, i.stepName, errorType(err))
		for _, l := range i.retryListeners {
			l.OnRetry(ctx, attempt, err)
		}
		backoff := i.retryPolicy.GetBackoffInterval(attempt)
		logger.Warnf("TaskletStep '%s': Invocation failed (Attempt %d/%d). Retrying in %v: %v", i.stepName, attempt, i.retryPolicy.GetMaxAttempts(), backoff, err)
		if waitErr := sleep(ctx, backoff); waitErr != nil {
			return model.ExitStatus{}, exception.NewJobInterruptedError("interrupted during retry backoff", waitErr)
		}
	}
}

func (i *FaultTolerantInvoker) shouldRetry(err error, attempt int) bool {
	return i.retryPolicy != nil && attempt < i.retryPolicy.GetMaxAttempts() && i.retryPolicy.ShouldRetry(err)
}

// recoverAndSkip never changes the outcome of the invocation; its own failures are only logged.
// The skip is reserved up front so that concurrent invocations cannot overrun the limit, and given
// back if recovery or the skip itself fails.
func (i *FaultTolerantInvoker) recoverAndSkip(ctx context.Context, contribution *model.Contribution, cause error) {
	if !i.caps.CanRecover() {
		return
	}
	if !i.skipPolicy.TrySkip(cause) {
		logger.Debugf("TaskletStep '%s': Error is not skippable (skip count %d): %v", i.stepName, i.skipPolicy.GetSkipCount(), cause)
		return
	}

	err := i.recoveryTemplate.Execute(ctx, func(txCtx context.Context, _ tx.Tx) error {
		return i.caps.Recoverable.Recover(txCtx, cause)
	})
	if err != nil {
		i.skipPolicy.ReleaseSkip()
		logger.Errorf("TaskletStep '%s': Recovery failed, invocation will not be skipped: %v", i.stepName, err)
		i.tracer.RecordError(ctx, "recovery", err)
		return
	}
	if err := i.caps.Skippable.Skip(ctx); err != nil {
		i.skipPolicy.ReleaseSkip()
		logger.Errorf("TaskletStep '%s': Skip failed after recovery: %v", i.stepName, err)
		i.tracer.RecordError(ctx, "skip", err)
		return
	}

	// Counted even if the chunk later rolls back: the recovery transaction has committed.
	contribution.IncrementSkipCount()
	i.metricRecorder.RecordTaskSkip(ctx, i.stepName, errorType(cause))
	for _, l := range i.skipListeners {
		l.OnSkip(ctx, cause)
	}
	logger.Warnf("TaskletStep '%s': Invocation recovered and skipped (Skip Count: %d): %v", i.stepName, i.skipPolicy.GetSkipCount(), cause)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorType(err error) string {
	if be, ok := err.(*exception.BatchError); ok {
		return be.Module
	}
	return fmt.Sprintf("%T", err)
}
