package handler_test

import (
	"errors"
	"testing"

	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/handler"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

var errValidation = errors.New("validation failed")

func init() {
	exception.RegisterErrorType("ValidationError", errValidation)
}

func TestDefaultExceptionHandler_Rethrows(t *testing.T) {
	err := errors.New("boom")
	assert.Same(t, err, handler.DefaultExceptionHandler{}.HandleException(repeat.NewContext(nil), err))
}

func TestCollectingExceptionHandler(t *testing.T) {
	rc := repeat.NewContext(nil)
	h := handler.NewCollectingExceptionHandler()
	assert.NoError(t, h.HandleException(rc, errors.New("one")))
	assert.NoError(t, h.HandleException(rc, errors.New("two")))
	assert.Len(t, rc.Throwables(), 2)
}

func TestSimpleLimitExceptionHandler(t *testing.T) {
	root := repeat.NewContext(nil)
	chunk1 := repeat.NewContext(root)
	chunk2 := repeat.NewContext(root)
	h := handler.NewSimpleLimitExceptionHandler(2, "ValidationError")

	// The limit spans chunks of the same outer loop.
	assert.NoError(t, h.HandleException(chunk1, errValidation))
	assert.NoError(t, h.HandleException(chunk2, errValidation))
	assert.ErrorIs(t, h.HandleException(chunk2, errValidation), errValidation)

	// Other types are re-raised immediately.
	other := errors.New("disk full")
	assert.Same(t, other, h.HandleException(repeat.NewContext(nil), other))
}

func TestSimpleLimitExceptionHandler_FatalTypes(t *testing.T) {
	h := handler.NewSimpleLimitExceptionHandler(10).WithFatalTypes(exception.IllegalStateException)
	fatal := exception.NewIllegalStateError("repeat", "broken")
	assert.Same(t, fatal, h.HandleException(repeat.NewContext(nil), fatal))
	assert.NoError(t, h.HandleException(repeat.NewContext(nil), errors.New("tolerated")))
}

func TestLogOrRethrowExceptionHandler(t *testing.T) {
	h := handler.NewLogOrRethrowExceptionHandler().
		Classify("ValidationError", handler.LogWarn).
		Classify("context.Canceled", handler.Rethrow)

	assert.NoError(t, h.HandleException(repeat.NewContext(nil), errValidation))
	unknown := errors.New("unknown")
	assert.Same(t, unknown, h.HandleException(repeat.NewContext(nil), unknown))

	c, err := handler.ParseClassification("debug")
	assert.NoError(t, err)
	assert.Equal(t, handler.LogDebug, c)
	_, err = handler.ParseClassification("nope")
	assert.Error(t, err)
}
