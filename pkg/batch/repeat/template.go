package repeat

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/hashicorp/go-multierror"
)

// runner produces iteration results for Template. The sequential runner calls the callback inline;
// the throttled runner hands it to a TaskExecutor and collects results from a ResultQueue.
type runner interface {
	newState() *runState
	next(ctx context.Context, rc *Context, callback Callback, state *runState) (model.ExitStatus, error)
	// wait drains outstanding work. It returns the combined status of drained results,
	// the errors they carried, and a fatal error if the engine's own invariants broke.
	wait(ctx context.Context, rc *Context, state *runState) (model.ExitStatus, []error, error)
}

type runState struct {
	queue *ResultQueue[*executingUnit]
}

// Template is the sequential loop engine.
//
// Per iteration it runs the Before listeners, updates the completion policy and invokes the callback
// on the calling goroutine, then runs the After listeners, or the OnError listeners and the
// exception handler when the iteration failed. The loop stops when the policy is complete for the
// latest result, when the context (or an ancestor) is marked complete, or when an error must be
// re-raised. Close listeners and context destruction always run before Iterate returns.
type Template struct {
	completionPolicy CompletionPolicy
	exceptionHandler ExceptionHandler
	listeners        []Listener
	runner           runner
}

// Option configures a Template.
type Option func(*Template)

// WithCompletionPolicy sets the completion policy (default: ResultCompletionPolicy).
func WithCompletionPolicy(policy CompletionPolicy) Option {
	return func(t *Template) { t.SetCompletionPolicy(policy) }
}

// WithExceptionHandler sets the exception handler (default: RethrowExceptionHandler).
func WithExceptionHandler(handler ExceptionHandler) Option {
	return func(t *Template) { t.SetExceptionHandler(handler) }
}

// WithListeners appends listeners.
func WithListeners(listeners ...Listener) Option {
	return func(t *Template) {
		for _, l := range listeners {
			t.RegisterListener(l)
		}
	}
}

// NewTemplate creates a sequential Template.
func NewTemplate(opts ...Option) *Template {
	t := &Template{
		completionPolicy: NewResultCompletionPolicy(),
		exceptionHandler: RethrowExceptionHandler{},
	}
	t.runner = sequentialRunner{t: t}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCompletionPolicy replaces the completion policy. Nil is ignored.
func (t *Template) SetCompletionPolicy(policy CompletionPolicy) {
	if policy != nil {
		t.completionPolicy = policy
	}
}

// SetExceptionHandler replaces the exception handler. Nil is ignored.
func (t *Template) SetExceptionHandler(handler ExceptionHandler) {
	if handler != nil {
		t.exceptionHandler = handler
	}
}

// SetListeners replaces all listeners.
func (t *Template) SetListeners(listeners []Listener) {
	t.listeners = append([]Listener(nil), listeners...)
}

// RegisterListener appends a listener. Nil is ignored.
func (t *Template) RegisterListener(l Listener) {
	if l != nil {
		t.listeners = append(t.listeners, l)
	}
}

// Iterate implements Operations.
func (t *Template) Iterate(ctx context.Context, callback Callback) (model.ExitStatus, error) {
	rc := t.completionPolicy.Start(FromContext(ctx))
	iterCtx := WithContext(ctx, rc)

	result, fatal := t.executeInternal(iterCtx, rc, callback)

	var closeErrs *multierror.Error
	for i := len(t.listeners) - 1; i >= 0; i-- {
		if err := t.listeners[i].Close(iterCtx, rc); err != nil {
			closeErrs = multierror.Append(closeErrs, err)
		}
	}
	if err := rc.Close(); err != nil {
		closeErrs = multierror.Append(closeErrs, err)
	}

	if fatal != nil {
		if closeErrs != nil {
			logger.Warnf("Errors while closing repeat context after a failure: %v", closeErrs)
			return result, multierror.Append(fatal, closeErrs.Errors...)
		}
		return result, fatal
	}
	return result, closeErrs.ErrorOrNil()
}

func (t *Template) executeInternal(ctx context.Context, rc *Context, callback Callback) (model.ExitStatus, error) {
	result := model.ExitStatusContinuable
	state := t.runner.newState()
	var deferred []error

	running := !IsMarkedComplete(rc)
	for _, l := range t.listeners {
		if err := l.Open(ctx, rc); err != nil {
			deferred = append(deferred, err)
			running = false
			break
		}
		running = running && !IsMarkedComplete(rc)
		if !running {
			break
		}
	}

	for running {
		for _, l := range t.listeners {
			if err := l.Before(ctx, rc); err != nil {
				deferred = append(deferred, err)
				running = false
				break
			}
			running = running && !IsMarkedComplete(rc)
		}
		if !running {
			break
		}
		if t.completionPolicy.IsComplete(rc) {
			logger.Tracef("Completion policy satisfied before iteration %d.", rc.StartedCount()+1)
			break
		}

		status, err := t.runner.next(ctx, rc, callback, state)
		if err == nil {
			result = status
			err = t.executeAfterListeners(ctx, rc, status)
		}
		if err != nil {
			// The iteration produced nothing; a swallowed error lets the loop go on.
			result = model.ExitStatusContinuable
			t.handle(ctx, rc, err, &deferred)
		}

		if t.completionPolicy.IsCompleteWithResult(rc, result) || IsMarkedComplete(rc) || len(deferred) > 0 {
			running = false
		}
	}

	drained, throwables, fatal := t.runner.wait(ctx, rc, state)
	result = result.And(drained)
	for _, err := range throwables {
		t.handle(ctx, rc, err, &deferred)
	}
	if fatal != nil {
		deferred = append([]error{fatal}, deferred...)
	}

	if len(deferred) > 0 {
		if len(deferred) > 1 {
			logger.Debugf("Re-raising first of %d fatal errors: %v", len(deferred), deferred[0])
		}
		return result, deferred[0]
	}
	if accumulated := rc.Throwables(); len(accumulated) > 0 {
		return result, rethrowAccumulated(accumulated)
	}
	return result, nil
}

// executeAfterListeners runs After in reverse order for continuable results.
func (t *Template) executeAfterListeners(ctx context.Context, rc *Context, result model.ExitStatus) error {
	if !result.Continuable {
		return nil
	}
	for i := len(t.listeners) - 1; i >= 0; i-- {
		if err := t.listeners[i].After(ctx, rc, result); err != nil {
			return err
		}
	}
	return nil
}

// handle runs the OnError listeners in reverse order and then the exception handler.
// Anything either of them returns is queued as fatal.
func (t *Template) handle(ctx context.Context, rc *Context, err error, deferred *[]error) {
	for i := len(t.listeners) - 1; i >= 0; i-- {
		if lErr := t.listeners[i].OnError(ctx, rc, err); lErr != nil {
			*deferred = append(*deferred, lErr)
			return
		}
	}
	if hErr := t.exceptionHandler.HandleException(rc, err); hErr != nil {
		logger.Debugf("Exception handler re-raised: %v", hErr)
		*deferred = append(*deferred, hErr)
	}
}

// rethrowAccumulated picks the single error to surface for errors collected during the loop:
// the first *BatchError if there is one, otherwise the first error wrapped in a BatchError.
func rethrowAccumulated(errs []error) error {
	for _, err := range errs {
		if _, ok := err.(*exception.BatchError); ok {
			return err
		}
	}
	return exception.NewBatchError("repeat", fmt.Sprintf("%d error(s) accumulated during iteration", len(errs)), errs[0], false, false)
}

type sequentialRunner struct {
	t *Template
}

func (r sequentialRunner) newState() *runState { return nil }

func (r sequentialRunner) next(ctx context.Context, rc *Context, callback Callback, _ *runState) (status model.ExitStatus, err error) {
	r.t.completionPolicy.Update(rc)
	defer func() {
		if p := recover(); p != nil {
			err = exception.FromPanic("repeat", p)
		}
	}()
	return callback.DoInIteration(ctx, rc)
}

func (r sequentialRunner) wait(context.Context, *Context, *runState) (model.ExitStatus, []error, error) {
	return model.ExitStatusUnknown, nil, nil
}
