// Package policy provides the CompletionPolicy implementations used to configure chunk and step loops.
package policy

import (
	"fmt"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
)

// DefaultResultCompletionPolicy completes when an iteration returns a non-continuable status.
type DefaultResultCompletionPolicy = repeat.ResultCompletionPolicy

// NewDefaultResultCompletionPolicy creates a DefaultResultCompletionPolicy.
func NewDefaultResultCompletionPolicy() *DefaultResultCompletionPolicy {
	return repeat.NewResultCompletionPolicy()
}

// isFinished reports whether result ends a loop whatever the policy counts: a non-continuable status,
// or the zero status, which is not continuable either.
func isFinished(result model.ExitStatus) bool {
	return result.IsZero() || !result.Continuable
}

// SimpleCompletionPolicy completes after a fixed number of iterations, or earlier when an iteration
// returns a non-continuable status. It is the usual chunk policy: the count is the commit interval.
type SimpleCompletionPolicy struct {
	chunkSize int
}

// DefaultChunkSize is used when a SimpleCompletionPolicy is created with a non-positive size.
const DefaultChunkSize = 5

// NewSimpleCompletionPolicy creates a SimpleCompletionPolicy.
func NewSimpleCompletionPolicy(chunkSize int) *SimpleCompletionPolicy {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &SimpleCompletionPolicy{chunkSize: chunkSize}
}

// ChunkSize returns the configured number of iterations.
func (p *SimpleCompletionPolicy) ChunkSize() int { return p.chunkSize }

func (p *SimpleCompletionPolicy) Start(parent *repeat.Context) *repeat.Context {
	return repeat.NewContext(parent)
}

func (p *SimpleCompletionPolicy) Update(rc *repeat.Context) { rc.Increment() }

func (p *SimpleCompletionPolicy) IsComplete(rc *repeat.Context) bool {
	return rc.StartedCount() >= p.chunkSize
}

func (p *SimpleCompletionPolicy) IsCompleteWithResult(rc *repeat.Context, result model.ExitStatus) bool {
	return isFinished(result) || p.IsComplete(rc)
}

func (p *SimpleCompletionPolicy) String() string {
	return fmt.Sprintf("SimpleCompletionPolicy[chunkSize=%d]", p.chunkSize)
}

// FirstErrorCompletionPolicy runs until the first error is recorded in the context, or until an
// iteration returns a non-continuable status. Pair it with a handler that records errors instead
// of re-raising them, such as handler.CollectingExceptionHandler.
type FirstErrorCompletionPolicy struct{}

// NewFirstErrorCompletionPolicy creates a FirstErrorCompletionPolicy.
func NewFirstErrorCompletionPolicy() *FirstErrorCompletionPolicy {
	return &FirstErrorCompletionPolicy{}
}

func (p *FirstErrorCompletionPolicy) Start(parent *repeat.Context) *repeat.Context {
	return repeat.NewContext(parent)
}

func (p *FirstErrorCompletionPolicy) Update(rc *repeat.Context) { rc.Increment() }

// IsComplete also sees errors recorded on an enclosing composite context.
func (p *FirstErrorCompletionPolicy) IsComplete(rc *repeat.Context) bool {
	if len(rc.Throwables()) > 0 {
		return true
	}
	return isCompositeContext(rc.Parent()) && len(rc.Parent().Throwables()) > 0
}

func (p *FirstErrorCompletionPolicy) IsCompleteWithResult(rc *repeat.Context, result model.ExitStatus) bool {
	return isFinished(result) || p.IsComplete(rc)
}

const startTimeAttribute = "policy.timeout.start"

// TimeoutTerminationPolicy completes once the loop has been running for longer than the timeout.
// An iteration already in flight is not interrupted.
type TimeoutTerminationPolicy struct {
	timeout time.Duration
	now     func() time.Time
}

// NewTimeoutTerminationPolicy creates a TimeoutTerminationPolicy.
func NewTimeoutTerminationPolicy(timeout time.Duration) *TimeoutTerminationPolicy {
	return &TimeoutTerminationPolicy{timeout: timeout, now: time.Now}
}

func (p *TimeoutTerminationPolicy) Start(parent *repeat.Context) *repeat.Context {
	rc := repeat.NewContext(parent)
	rc.SetAttribute(startTimeAttribute, p.now())
	return rc
}

func (p *TimeoutTerminationPolicy) Update(rc *repeat.Context) { rc.Increment() }

func (p *TimeoutTerminationPolicy) IsComplete(rc *repeat.Context) bool {
	v, ok := rc.GetAttribute(startTimeAttribute)
	if !ok {
		return false
	}
	return p.now().Sub(v.(time.Time)) >= p.timeout
}

func (p *TimeoutTerminationPolicy) IsCompleteWithResult(rc *repeat.Context, result model.ExitStatus) bool {
	return isFinished(result) || p.IsComplete(rc)
}
