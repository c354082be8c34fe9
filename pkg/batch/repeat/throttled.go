package repeat

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ThrottledTemplate is the concurrent loop engine. It shares the listener, policy and handler
// semantics of Template, but each iteration is submitted to a TaskExecutor, with at most
// throttleLimit iterations in flight. Results are consumed in completion order.
//
// Before returning, Iterate waits for every submitted iteration, runs the After listeners for each
// drained result and hands drained errors to OnError and the exception handler.
type ThrottledTemplate struct {
	*Template
	executor      TaskExecutor
	throttleLimit int
}

// NewThrottledTemplate creates a ThrottledTemplate. A nil executor means GoroutineTaskExecutor and a
// non-positive limit means DefaultThrottleLimit.
func NewThrottledTemplate(executor TaskExecutor, throttleLimit int, opts ...Option) *ThrottledTemplate {
	if executor == nil {
		executor = GoroutineTaskExecutor{}
	}
	if throttleLimit <= 0 {
		throttleLimit = DefaultThrottleLimit
	}
	tt := &ThrottledTemplate{
		Template:      NewTemplate(opts...),
		executor:      executor,
		throttleLimit: throttleLimit,
	}
	tt.Template.runner = &throttledRunner{t: tt.Template, executor: executor, throttleLimit: throttleLimit}
	return tt
}

// ThrottleLimit returns the maximum number of iterations in flight.
func (tt *ThrottledTemplate) ThrottleLimit() int {
	return tt.throttleLimit
}

// executingUnit is one submitted iteration together with its outcome.
type executingUnit struct {
	ctx      context.Context
	rc       *Context
	callback Callback
	queue    *ResultQueue[*executingUnit]

	result model.ExitStatus
	err    error
}

// run always delivers the unit to the queue, converting panics into errors.
func (u *executingUnit) run() {
	defer func() {
		if err := u.queue.Put(u); err != nil {
			logger.Errorf("Could not deliver iteration result: %v", err)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			u.err = exception.FromPanic("repeat", p)
		}
	}()
	u.result, u.err = u.callback.DoInIteration(u.ctx, u.rc)
}

type throttledRunner struct {
	t             *Template
	executor      TaskExecutor
	throttleLimit int
}

func (r *throttledRunner) newState() *runState {
	return &runState{queue: NewResultQueue[*executingUnit](r.throttleLimit)}
}

// next keeps submitting iterations until a result is available or the policy is complete,
// then takes one result.
func (r *throttledRunner) next(ctx context.Context, rc *Context, callback Callback, state *runState) (model.ExitStatus, error) {
	queue := state.queue
	for {
		if err := queue.Expect(ctx); err != nil {
			if !queue.IsExpecting() {
				return model.ExitStatus{}, exception.NewJobInterruptedError("interrupted while waiting for a throttle slot", err)
			}
			// Fall through and collect a result that is already on its way.
			break
		}
		unit := &executingUnit{ctx: ctx, rc: rc, callback: callback, queue: queue}
		r.executor.Execute(unit.run)
		r.t.completionPolicy.Update(rc)
		logger.Tracef("Submitted iteration %d (in flight: %d, outstanding: %d).", rc.StartedCount(), queue.InFlight(), queue.Count())

		if !queue.IsEmpty() || r.t.completionPolicy.IsComplete(rc) {
			break
		}
	}

	unit, err := queue.Take()
	if err != nil {
		return model.ExitStatus{}, exception.NewIllegalStateError("repeat", err.Error())
	}
	return unit.result, unit.err
}

func (r *throttledRunner) wait(ctx context.Context, rc *Context, state *runState) (model.ExitStatus, []error, error) {
	result := model.ExitStatusUnknown
	var errs []error
	queue := state.queue
	for queue.IsExpecting() {
		unit, err := queue.Take()
		if err != nil {
			return result, errs, exception.NewIllegalStateError("repeat", err.Error())
		}
		if unit.err != nil {
			errs = append(errs, unit.err)
			continue
		}
		result = result.And(unit.result)
		if err := r.t.executeAfterListeners(ctx, rc, unit.result); err != nil {
			errs = append(errs, err)
		}
	}
	if !queue.IsEmpty() {
		return result, errs, exception.NewIllegalStateError("repeat", "result queue not empty after draining outstanding results")
	}
	return result, errs, nil
}
