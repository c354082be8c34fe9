package policy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat/policy"

	"github.com/stretchr/testify/assert"
)

func TestSimpleCompletionPolicy(t *testing.T) {
	p := policy.NewSimpleCompletionPolicy(2)
	rc := p.Start(nil)

	assert.False(t, p.IsComplete(rc))
	p.Update(rc)
	assert.False(t, p.IsCompleteWithResult(rc, model.ExitStatusContinuable))
	// A non-continuable result completes regardless of the count.
	assert.True(t, p.IsCompleteWithResult(rc, model.ExitStatusCompleted))
	assert.True(t, p.IsCompleteWithResult(rc, model.ExitStatus{}))
	p.Update(rc)
	assert.True(t, p.IsComplete(rc))

	assert.Equal(t, policy.DefaultChunkSize, policy.NewSimpleCompletionPolicy(0).ChunkSize())
}

func TestDefaultResultCompletionPolicy(t *testing.T) {
	p := policy.NewDefaultResultCompletionPolicy()
	rc := p.Start(nil)
	assert.False(t, p.IsComplete(rc))
	assert.False(t, p.IsCompleteWithResult(rc, model.ExitStatusContinuable))
	assert.True(t, p.IsCompleteWithResult(rc, model.ExitStatusCompleted))
	assert.True(t, p.IsCompleteWithResult(rc, model.ExitStatus{}))
}

func TestFirstErrorCompletionPolicy(t *testing.T) {
	p := policy.NewFirstErrorCompletionPolicy()
	rc := p.Start(nil)
	assert.False(t, p.IsCompleteWithResult(rc, model.ExitStatusContinuable))
	rc.AddThrowable(errors.New("boom"))
	assert.True(t, p.IsComplete(rc))
}

func TestTimeoutTerminationPolicy(t *testing.T) {
	p := policy.NewTimeoutTerminationPolicy(20 * time.Millisecond)
	rc := p.Start(nil)
	assert.False(t, p.IsComplete(rc))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, p.IsComplete(rc))
}

func TestCompositeCompletionPolicy_Any(t *testing.T) {
	p := policy.Any(policy.NewSimpleCompletionPolicy(2), policy.NewSimpleCompletionPolicy(5))
	rc := p.Start(nil)

	p.Update(rc)
	assert.False(t, p.IsComplete(rc))
	p.Update(rc)
	assert.True(t, p.IsComplete(rc))
	assert.Equal(t, 2, rc.StartedCount())
	assert.NoError(t, rc.Close())
}

func TestCompositeCompletionPolicy_All(t *testing.T) {
	p := policy.All(policy.NewSimpleCompletionPolicy(2), policy.NewSimpleCompletionPolicy(3))
	rc := p.Start(nil)

	p.Update(rc)
	p.Update(rc)
	assert.False(t, p.IsCompleteWithResult(rc, model.ExitStatusContinuable))
	p.Update(rc)
	assert.True(t, p.IsCompleteWithResult(rc, model.ExitStatusContinuable))
}

func TestCompositeCompletionPolicy_FirstErrorSeesCompositeThrowables(t *testing.T) {
	p := policy.Any(policy.NewSimpleCompletionPolicy(10), policy.NewFirstErrorCompletionPolicy())
	rc := p.Start(repeat.NewContext(nil))

	p.Update(rc)
	assert.False(t, p.IsComplete(rc))
	rc.AddThrowable(errors.New("recorded by handler"))
	assert.True(t, p.IsComplete(rc))
}
