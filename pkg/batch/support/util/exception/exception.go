// Package exception holds the errors that travel through the repeat templates and the tasklet step.
//
// BatchError records the module that raised a failure and carries the retry and skip flags read by
// the fault tolerance policies. Retry and skip configuration can also name errors by string; those
// names resolve through a registry of sentinel values, then through the type names and messages
// found along the error chain.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// OptimisticLockingFailureException is the registered name of ErrOptimisticLockingFailure.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is matched by every error returned when a repository update loses a version race.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

type registry struct {
	mu     sync.RWMutex
	byName map[string]error
}

var names = &registry{byName: make(map[string]error)}

func (r *registry) lookup(name string) (error, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.byName[name]
	return target, ok
}

// RegisterErrorType binds name to a sentinel so that retryable and skippable lists in configuration
// can refer to it. Matching uses errors.Is against prototype. Registering an existing name replaces it.
// It panics on an empty name or a nil prototype.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("exception: error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("exception: nil prototype for error type %q", name))
	}
	names.mu.Lock()
	names.byName[name] = prototype
	names.mu.Unlock()
}

// IsErrorTypeRegistered reports whether name was bound with RegisterErrorType.
func IsErrorTypeRegistered(name string) bool {
	_, ok := names.lookup(name)
	return ok
}

// BatchError is a failure raised inside a step, a repeat template, a transaction or a repository.
type BatchError struct {
	// Module names the component that raised the error ("repeat", "tasklet", "tx", "repository", ...).
	Module  string
	Message string
	// OriginalErr is the cause, exposed through Unwrap.
	OriginalErr error
	// StackTrace is the raising goroutine's stack, kept for the failure log.
	StackTrace string

	retryable bool
	skippable bool
}

// NewBatchError creates a BatchError wrapping cause. The skippable and retryable flags are consulted
// by the default skip and retry policies before any configured type list.
func NewBatchError(module, message string, cause error, skippable, retryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: cause,
		StackTrace:  stack(),
		retryable:   retryable,
		skippable:   skippable,
	}
}

// NewBatchErrorf creates a BatchError whose message is fmt.Sprintf(format, a...).
// It wraps nothing and is neither retryable nor skippable.
//
//	NewBatchErrorf("launcher", "step '%s' is already running", key)
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	return NewBatchError(module, fmt.Sprintf(format, a...), nil, false, false)
}

// NewOptimisticLockingFailureException reports a lost version race. It always matches
// ErrOptimisticLockingFailure and, when cause is set, cause as well. It is never retried or skipped.
func NewOptimisticLockingFailureException(module, message string, cause error) *BatchError {
	wrapped := ErrOptimisticLockingFailure
	if cause != nil {
		wrapped = errors.Join(ErrOptimisticLockingFailure, cause)
	}
	return NewBatchError(module, message, wrapped, false, false)
}

func (e *BatchError) Error() string {
	if e.OriginalErr == nil {
		return fmt.Sprintf("[%s] %s", e.Module, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
}

func (e *BatchError) Unwrap() error { return e.OriginalErr }

// IsRetryable reports whether the raiser marked the error as worth another attempt.
func (e *BatchError) IsRetryable() bool { return e.retryable }

// IsSkippable reports whether the raiser marked the error as safe to recover from and skip.
func (e *BatchError) IsSkippable() bool { return e.skippable }

// IsOptimisticLockingFailure reports whether err records a lost version race.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// IsErrorOfType reports whether err matches typeName, as written in retry or skip configuration.
// A registered name matches with errors.Is. Otherwise every error along the chain, including each
// branch of a joined error, is compared by Go type name ("*net.OpError" or "net.OpError") and by
// message substring.
func IsErrorOfType(err error, typeName string) bool {
	if err == nil {
		return false
	}
	if target, ok := names.lookup(typeName); ok && errors.Is(err, target) {
		return true
	}
	return walkChain(err, func(e error) bool {
		if strings.Contains(e.Error(), typeName) {
			return true
		}
		t := reflect.TypeOf(e)
		return t.String() == typeName || (t.Kind() == reflect.Ptr && t.Elem().String() == typeName)
	})
}

// walkChain calls visit on err and everything it wraps, depth first, until visit returns true.
func walkChain(err error, visit func(error) bool) bool {
	if err == nil {
		return false
	}
	if visit(err) {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walkChain(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, branch := range u.Unwrap() {
			if walkChain(branch, visit) {
				return true
			}
		}
	}
	return false
}

// ExtractErrorMessage returns the Message of a BatchError and Error() for anything else.
// It is used for exit descriptions, where the module prefix and cause would be noise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}

func stack() string {
	buf := make([]byte, 2048)
	return string(buf[:runtime.Stack(buf, false)])
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType(JobInterruptedException, ErrJobInterrupted)
	RegisterErrorType(IllegalStateException, ErrIllegalState)

	// Standard library sentinels that retry and skip lists commonly name.
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("sql.ErrTxDone", sql.ErrTxDone)
}
