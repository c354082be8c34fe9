package exception_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

type chunkError struct {
	Chunk int
}

func (e *chunkError) Error() string {
	return fmt.Sprintf("chunk %d rejected", e.Chunk)
}

func TestNewBatchError(t *testing.T) {
	cause := errors.New("db connection refused")
	be := exception.NewBatchError("repository", "failed to connect", cause, false, true)

	assert.Equal(t, "repository", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Same(t, cause, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Equal(t, "[repository] failed to connect: db connection refused", be.Error())
	assert.NotEmpty(t, be.StackTrace)

	var target *exception.BatchError
	assert.True(t, errors.As(fmt.Errorf("step: %w", be), &target))
	assert.False(t, errors.As(cause, &target))
}

func TestNewBatchErrorf_FormatsMessageOnly(t *testing.T) {
	be := exception.NewBatchErrorf("launcher", "step '%s' is already running (execution %d)", "nightly", 7)

	assert.Equal(t, "step 'nightly' is already running (execution 7)", be.Message)
	assert.Equal(t, "[launcher] step 'nightly' is already running (execution 7)", be.Error())
	assert.Nil(t, be.Unwrap())
	assert.False(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())

	// Booleans and errors are ordinary format operands.
	be = exception.NewBatchErrorf("tasklet", "flag=%t cause=%v", true, io.EOF)
	assert.Equal(t, "flag=true cause=EOF", be.Message)
	assert.Nil(t, be.Unwrap())
}

func TestNewOptimisticLockingFailureException(t *testing.T) {
	be := exception.NewOptimisticLockingFailureException("repository", "version mismatch", nil)
	assert.False(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.True(t, exception.IsOptimisticLockingFailure(be))

	cause := errors.New("0 rows affected")
	joined := exception.NewOptimisticLockingFailureException("repository", "version mismatch", cause)
	assert.True(t, exception.IsOptimisticLockingFailure(joined))
	assert.ErrorIs(t, joined, cause)
	assert.False(t, exception.IsOptimisticLockingFailure(cause))
}

func TestIsErrorOfType_StandardSentinels(t *testing.T) {
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("read chunk: %w", io.EOF), "io.EOF"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("read chunk: %w", io.ErrUnexpectedEOF), "io.ErrUnexpectedEOF"))
	assert.True(t, exception.IsErrorOfType(exception.NewBatchError("tx", "commit", sql.ErrTxDone, false, false), "sql.ErrTxDone"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("lookup: %w", sql.ErrNoRows), "sql.ErrNoRows"))

	// A look-alike with the same text is not the sentinel.
	assert.False(t, exception.IsErrorOfType(errors.New("EOF"), "io.EOF"))
}

func TestIsErrorOfType_JoinedBranches(t *testing.T) {
	joined := errors.Join(errors.New("first"), fmt.Errorf("second: %w", &chunkError{Chunk: 4}))

	assert.True(t, exception.IsErrorOfType(joined, "*exception_test.chunkError"))
	assert.False(t, exception.IsErrorOfType(joined, "*exception_test.otherError"))
}

func TestIsErrorOfType(t *testing.T) {
	exception.RegisterErrorType("ChunkError", &chunkError{})
	assert.True(t, exception.IsErrorTypeRegistered("ChunkError"))
	assert.False(t, exception.IsErrorTypeRegistered("NoSuchError"))

	olfe := exception.NewOptimisticLockingFailureException("repository", "update failed", nil)
	assert.True(t, exception.IsErrorOfType(olfe, exception.OptimisticLockingFailureException))

	wrapped := fmt.Errorf("step: %w", exception.NewBatchError("tasklet", "chunk failure", &chunkError{Chunk: 2}, false, false))
	assert.True(t, exception.IsErrorOfType(wrapped, "*exception_test.chunkError"))
	assert.True(t, exception.IsErrorOfType(wrapped, "exception_test.chunkError"))
	assert.True(t, exception.IsErrorOfType(wrapped, "chunk 2 rejected"))
	assert.False(t, exception.IsErrorOfType(wrapped, exception.OptimisticLockingFailureException))
	assert.False(t, exception.IsErrorOfType(wrapped, "NonExistentError"))
	assert.False(t, exception.IsErrorOfType(nil, "any"))

	assert.True(t, exception.IsErrorOfType(fmt.Errorf("query: %w", context.DeadlineExceeded), "context.DeadlineExceeded"))
}

func TestRegisterErrorType_RejectsInvalidInput(t *testing.T) {
	assert.Panics(t, func() { exception.RegisterErrorType("", errors.New("x")) })
	assert.Panics(t, func() { exception.RegisterErrorType("Nil", nil) })
}

func TestJobInterruptedError(t *testing.T) {
	cause := errors.New("context canceled")
	err := exception.NewJobInterruptedError("stop requested", cause)

	assert.Equal(t, "STOPPED", err.Status)
	assert.True(t, exception.IsJobInterrupted(err))
	assert.True(t, exception.IsJobInterrupted(fmt.Errorf("chunk: %w", err)))
	assert.ErrorIs(t, err, cause)
	assert.True(t, exception.IsErrorOfType(err, exception.JobInterruptedException))
	assert.False(t, exception.IsJobInterrupted(cause))
	assert.False(t, exception.IsJobInterrupted(nil))
}

func TestNewIllegalStateError(t *testing.T) {
	err := exception.NewIllegalStateError("repeat", "result queue drained twice")

	assert.ErrorIs(t, err, exception.ErrIllegalState)
	assert.True(t, exception.IsErrorOfType(err, exception.IllegalStateException))
	assert.False(t, err.IsRetryable())
	assert.False(t, err.IsSkippable())
}

func TestFromPanic(t *testing.T) {
	be := exception.FromPanic("repeat", "index out of range")
	assert.Contains(t, be.Error(), "index out of range")
	assert.Contains(t, be.StackTrace, "TestFromPanic")

	sentinel := errors.New("nil map")
	assert.ErrorIs(t, exception.FromPanic("repeat", sentinel), sentinel)
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "item 3 rejected", exception.ExtractErrorMessage(exception.NewBatchError("processor", "item 3 rejected", errors.New("x"), true, false)))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Empty(t, exception.ExtractErrorMessage(nil))
}
