package exception

import (
	"errors"
	"fmt"
	"runtime/debug"
)

const (
	// JobInterruptedException is the registered name of ErrJobInterrupted.
	JobInterruptedException = "JobInterruptedException"
	// IllegalStateException is the registered name of ErrIllegalState.
	IllegalStateException = "IllegalStateException"
)

var (
	// ErrJobInterrupted is the sentinel matched by every JobInterruptedError.
	ErrJobInterrupted = errors.New(JobInterruptedException)
	// ErrIllegalState marks broken internal invariants. Such errors are never retried or skipped.
	ErrIllegalState = errors.New(IllegalStateException)
)

// JobInterruptedError signals that a step observed a stop request at one of its interruption checks.
// The step records Status as its final batch status (STOPPED unless set otherwise).
type JobInterruptedError struct {
	Message string
	Status  string
	Cause   error
}

// NewJobInterruptedError creates a JobInterruptedError with status STOPPED.
func NewJobInterruptedError(message string, cause error) *JobInterruptedError {
	return &JobInterruptedError{Message: message, Status: "STOPPED", Cause: cause}
}

func (e *JobInterruptedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("job interrupted: %s: %v", e.Message, e.Cause)
	}
	return "job interrupted: " + e.Message
}

// Is lets errors.Is match ErrJobInterrupted.
func (e *JobInterruptedError) Is(target error) bool {
	return target == ErrJobInterrupted
}

func (e *JobInterruptedError) Unwrap() error {
	return e.Cause
}

// IsJobInterrupted reports whether err (or anything it wraps) is an interruption signal.
func IsJobInterrupted(err error) bool {
	return err != nil && errors.Is(err, ErrJobInterrupted)
}

// NewIllegalStateError creates a fatal BatchError marking a broken invariant.
func NewIllegalStateError(module, message string) *BatchError {
	return NewBatchError(module, message, ErrIllegalState, false, false)
}

// FromPanic converts a recovered panic value into a BatchError carrying the panicking goroutine's stack.
func FromPanic(module string, recovered interface{}) *BatchError {
	var cause error
	if err, ok := recovered.(error); ok {
		cause = err
	} else {
		cause = fmt.Errorf("%v", recovered)
	}
	be := NewBatchError(module, "panic during execution", cause, false, false)
	be.StackTrace = string(debug.Stack())
	return be
}
