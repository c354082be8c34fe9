package model_test

import (
	"errors"
	"testing"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestExitStatus_And(t *testing.T) {
	// Continuable only if both are.
	assert.True(t, model.ExitStatusContinuable.And(model.ExitStatusUnknown).Continuable)
	assert.False(t, model.ExitStatusContinuable.And(model.ExitStatusCompleted).Continuable)

	// UNKNOWN is absorbed by any determined status.
	assert.Equal(t, model.ExitCodeCompleted, model.ExitStatusUnknown.And(model.ExitStatusCompleted).ExitCode)
	assert.Equal(t, model.ExitCodeContinuable, model.ExitStatusContinuable.And(model.ExitStatusUnknown).ExitCode)
	assert.Equal(t, model.ExitStatusCompleted, model.ExitStatusCompleted.And(model.ExitStatusUnknown))

	// FAILED absorbs everything, STOPPED beats COMPLETED.
	assert.Equal(t, model.ExitCodeFailed, model.ExitStatusStopped.And(model.ExitStatusFailed).ExitCode)
	assert.Equal(t, model.ExitCodeFailed, model.ExitStatusFailed.And(model.ExitStatusCompleted).ExitCode)
	assert.Equal(t, model.ExitCodeStopped, model.ExitStatusCompleted.And(model.ExitStatusStopped).ExitCode)

	// Custom codes rank between NOOP and STOPPED.
	custom := model.ExitStatusCompleted.ReplaceExitCode("COMPLETED_WITH_SKIPS")
	assert.Equal(t, "COMPLETED_WITH_SKIPS", model.ExitStatusCompleted.And(custom).ExitCode)
	assert.Equal(t, model.ExitCodeStopped, custom.And(model.ExitStatusStopped).ExitCode)

	// Descriptions are joined.
	a := model.ExitStatusFailed.WithDescription("first")
	b := model.ExitStatusFailed.WithDescription("second")
	assert.Equal(t, "first; second", a.And(b).ExitDescription)
	assert.Equal(t, "first", a.And(a).ExitDescription)
}

func TestExitStatus_IsZero(t *testing.T) {
	assert.True(t, model.ExitStatus{}.IsZero())
	assert.False(t, model.ExitStatusUnknown.IsZero())
	assert.True(t, model.ExitStatusUnknown.IsRunning())
	assert.False(t, model.ExitStatusCompleted.IsRunning())
}

func TestStepExecution_Lifecycle(t *testing.T) {
	instance := model.NewStepInstance("job", "step")
	assert.False(t, instance.IsRestart())

	se := model.NewStepExecution(instance)
	assert.Equal(t, instance.ID, se.StepInstanceID)
	assert.Equal(t, model.BatchStatusStarting, se.Status)

	se.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, se.Status)

	se.MarkAsFailed(model.ExitStatusFailed, errors.New("boom"))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.NotNil(t, se.EndTime)
	assert.Equal(t, model.FailureList{"boom"}, se.Failures)

	// Duplicate failures are not recorded twice.
	se.AddFailureException(errors.New("boom"))
	assert.Len(t, se.Failures, 1)
}

func TestStepExecution_TransitionTo(t *testing.T) {
	se := model.NewStepExecution(model.NewStepInstance("job", "step"))
	assert.Error(t, se.TransitionTo(model.BatchStatusCompleted))
	assert.NoError(t, se.TransitionTo(model.BatchStatusStarted))
	assert.NoError(t, se.TransitionTo(model.BatchStatusStopped))
	assert.Error(t, se.TransitionTo(model.BatchStatusStarted))
}

func TestStepExecution_ApplyContribution(t *testing.T) {
	se := model.NewStepExecution(model.NewStepInstance("job", "step"))
	c := model.NewContribution()
	c.IncrementTaskCount()
	c.IncrementTaskCount()
	c.IncrementSkipCount()

	se.Apply(c)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, 2, se.TaskCount)
	assert.Equal(t, 1, se.SkipCount)

	se.Unapply(c)
	assert.Equal(t, 0, se.CommitCount)
	assert.Equal(t, 0, se.TaskCount)
	assert.Equal(t, 0, se.SkipCount)

	se.RetainSkips(c)
	assert.Equal(t, 0, se.TaskCount)
	assert.Equal(t, 1, se.SkipCount)
}

func TestStepExecution_CopyKeepsTerminateFlag(t *testing.T) {
	se := model.NewStepExecution(model.NewStepInstance("job", "step"))
	se.Statistics.Put("processed", 3)
	se.SetTerminateOnly()

	c := se.Copy()
	assert.True(t, c.IsTerminateOnly())
	c.Statistics.Put("processed", 4)
	v, _ := se.Statistics.GetInt("processed")
	assert.Equal(t, 3, v)
}

func TestExecutionContext_ScanValue(t *testing.T) {
	ec := model.ExecutionContext{"position": 5}
	v, err := ec.Value()
	assert.NoError(t, err)

	var restored model.ExecutionContext
	assert.NoError(t, restored.Scan(v))
	pos, ok := restored.GetInt("position")
	assert.True(t, ok)
	assert.Equal(t, 5, pos)

	assert.NoError(t, restored.Scan(nil))
	assert.Empty(t, restored)
	assert.Error(t, restored.Scan(42))
}
