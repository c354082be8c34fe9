package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy_ShouldRetry(t *testing.T) {
	p := retry.NewDefaultRetryPolicyFactory().Create(3, 10, []string{"connection refused"})

	assert.True(t, p.ShouldRetry(errors.New("dial tcp: connection refused")))
	assert.True(t, p.ShouldRetry(exception.NewBatchError("tasklet", "flaky", nil, false, true)))
	assert.False(t, p.ShouldRetry(errors.New("bad input")))
	assert.False(t, p.ShouldRetry(exception.NewJobInterruptedError("stop", nil)))
	assert.False(t, p.ShouldRetry(nil))
	assert.Equal(t, 3, p.GetMaxAttempts())
}

func TestDefaultRetryPolicy_ZeroAttemptsDisablesRetry(t *testing.T) {
	p := retry.NewDefaultRetryPolicyFactory().Create(0, 10, []string{"boom"})
	assert.False(t, p.ShouldRetry(errors.New("boom")))
}

func TestDefaultRetryPolicy_Backoff(t *testing.T) {
	fixed := retry.NewDefaultRetryPolicyFactory().Create(3, 10, nil)
	assert.Equal(t, 10*time.Millisecond, fixed.GetBackoffInterval(1))
	assert.Equal(t, 10*time.Millisecond, fixed.GetBackoffInterval(3))

	exp := retry.NewDefaultRetryPolicyFactory().CreateExponential(5, 10, 2, 50, nil)
	assert.Equal(t, 10*time.Millisecond, exp.GetBackoffInterval(1))
	assert.Equal(t, 20*time.Millisecond, exp.GetBackoffInterval(2))
	assert.Equal(t, 40*time.Millisecond, exp.GetBackoffInterval(3))
	assert.Equal(t, 50*time.Millisecond, exp.GetBackoffInterval(4))
}
