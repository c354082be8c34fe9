package listener_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/listener"
)

func TestStepCompletionSignaler(t *testing.T) {
	s := listener.NewStepCompletionSignaler()
	se := model.NewStepExecution(model.NewStepInstance("nightly", "counter"))
	se.MarkAsStarted()
	assert.Nil(t, s.Final())

	s.BeforeStep(context.Background(), se)
	select {
	case <-s.Done():
		t.Fatal("done before the step ended")
	default:
	}

	se.MarkAsStopped(model.ExitStatusStopped)
	s.AfterStep(context.Background(), se)
	s.AfterStep(context.Background(), se)

	<-s.Done()
	require.NotNil(t, s.Final())
	assert.Equal(t, model.BatchStatusStopped, s.Final().Status)
	assert.NotSame(t, se, s.Final())
}
