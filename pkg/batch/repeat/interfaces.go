package repeat

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Callback is the unit of work run once per iteration.
// The returned status tells the loop whether more work is available.
type Callback interface {
	DoInIteration(ctx context.Context, rc *Context) (model.ExitStatus, error)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, rc *Context) (model.ExitStatus, error)

// DoInIteration calls f.
func (f CallbackFunc) DoInIteration(ctx context.Context, rc *Context) (model.ExitStatus, error) {
	return f(ctx, rc)
}

// Operations is implemented by Template and ThrottledTemplate.
type Operations interface {
	// Iterate runs callback until the completion policy, a listener or an error ends the loop.
	Iterate(ctx context.Context, callback Callback) (model.ExitStatus, error)
}

// CompletionPolicy decides when a loop finishes.
//
// A policy may keep state in the Context it creates, so that one policy instance can serve
// several loops at once.
type CompletionPolicy interface {
	// Start creates the context for a new loop nested in parent (nil for an outermost loop).
	Start(parent *Context) *Context
	// Update records that one more iteration is starting.
	Update(rc *Context)
	// IsComplete decides from the context alone. It is consulted before each iteration.
	IsComplete(rc *Context) bool
	// IsCompleteWithResult decides after an iteration, given its status.
	IsCompleteWithResult(rc *Context, result model.ExitStatus) bool
}

// ExceptionHandler decides what to do with an error raised by an iteration.
// Returning nil swallows the error and lets the loop go on; returning an error ends the loop
// and surfaces that error from Iterate.
type ExceptionHandler interface {
	HandleException(rc *Context, err error) error
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(rc *Context, err error) error

// HandleException calls f.
func (f ExceptionHandlerFunc) HandleException(rc *Context, err error) error {
	return f(rc, err)
}

// Listener intercepts the loop.
//
// Open and Before run in registration order; After, OnError and Close run in reverse order.
// Open and Before may veto the loop with rc.SetCompleteOnly(). An error returned by any hook is
// fatal: the loop ends and the error is surfaced from Iterate. Close always runs.
type Listener interface {
	Open(ctx context.Context, rc *Context) error
	Before(ctx context.Context, rc *Context) error
	After(ctx context.Context, rc *Context, result model.ExitStatus) error
	OnError(ctx context.Context, rc *Context, err error) error
	Close(ctx context.Context, rc *Context) error
}

// ListenerSupport implements Listener with no-op hooks. Embed it to override only what is needed.
type ListenerSupport struct{}

func (ListenerSupport) Open(ctx context.Context, rc *Context) error   { return nil }
func (ListenerSupport) Before(ctx context.Context, rc *Context) error { return nil }
func (ListenerSupport) After(ctx context.Context, rc *Context, result model.ExitStatus) error {
	return nil
}
func (ListenerSupport) OnError(ctx context.Context, rc *Context, err error) error { return nil }
func (ListenerSupport) Close(ctx context.Context, rc *Context) error              { return nil }
