package repeat

import "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"

// ResultCompletionPolicy completes as soon as an iteration returns a non-continuable status
// (or no status at all). It is the default policy of both engines.
type ResultCompletionPolicy struct{}

// NewResultCompletionPolicy creates a ResultCompletionPolicy.
func NewResultCompletionPolicy() *ResultCompletionPolicy {
	return &ResultCompletionPolicy{}
}

func (p *ResultCompletionPolicy) Start(parent *Context) *Context { return NewContext(parent) }
func (p *ResultCompletionPolicy) Update(rc *Context)             { rc.Increment() }
func (p *ResultCompletionPolicy) IsComplete(rc *Context) bool    { return false }

func (p *ResultCompletionPolicy) IsCompleteWithResult(rc *Context, result model.ExitStatus) bool {
	return result.IsZero() || !result.Continuable
}

// RethrowExceptionHandler returns every error unchanged, so the first failure ends the loop.
// It is the default handler of both engines.
type RethrowExceptionHandler struct{}

// HandleException returns err.
func (RethrowExceptionHandler) HandleException(rc *Context, err error) error {
	return err
}
