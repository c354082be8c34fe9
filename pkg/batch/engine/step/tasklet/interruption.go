package tasklet

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// InterruptionPolicy is polled by the step loop before every chunk, around every tasklet invocation,
// and after every chunk transaction. A non-nil return unwinds the step as STOPPED.
type InterruptionPolicy interface {
	CheckInterrupted(ctx context.Context, stepExecution *model.StepExecution) error
}

// InterruptionPolicyFunc adapts a function to InterruptionPolicy.
type InterruptionPolicyFunc func(ctx context.Context, stepExecution *model.StepExecution) error

func (f InterruptionPolicyFunc) CheckInterrupted(ctx context.Context, se *model.StepExecution) error {
	return f(ctx, se)
}

// DefaultInterruptionPolicy treats a cancelled context, or a stop request recorded on the execution,
// as an interruption.
type DefaultInterruptionPolicy struct{}

func (DefaultInterruptionPolicy) CheckInterrupted(ctx context.Context, se *model.StepExecution) error {
	if err := ctx.Err(); err != nil {
		return exception.NewJobInterruptedError("step context cancelled", err)
	}
	if se != nil && se.IsTerminateOnly() {
		return exception.NewJobInterruptedError("stop requested for step execution "+se.ID, nil)
	}
	return nil
}

// isInterruption reports whether err ends the step as STOPPED rather than FAILED.
// An error caused by the cancellation of ctx itself counts, so tasklets may simply return ctx.Err().
func isInterruption(ctx context.Context, err error) bool {
	if exception.IsJobInterrupted(err) {
		return true
	}
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
