package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
)

func TestLoggingListenerBuilder(t *testing.T) {
	listeners, err := logging.NewLoggingListenerBuilder()(config.NewConfig(), "counter")

	require.NoError(t, err)
	require.Len(t, listeners, 2)
	assert.IsType(t, &logging.LoggingStepListener{}, listeners[0])
	assert.IsType(t, &logging.RepeatLoggingListener{}, listeners[1])
}

func TestRegisterLoggingListeners(t *testing.T) {
	registry := tasklet.NewListenerRegistry()
	logging.RegisterLoggingListeners(registry)

	opts, err := registry.Options(config.NewConfig(), "counter", []string{logging.ListenerName})

	require.NoError(t, err)
	// Step, chunk, retry and skip hooks from one listener plus the repeat listener.
	assert.Len(t, opts, 5)
}

func TestLoggingListeners_NeverFailTheLoop(t *testing.T) {
	ctx := context.Background()
	se := model.NewStepExecution(model.NewStepInstance("nightly", "counter"))
	step := logging.NewLoggingStepListener("counter")
	step.BeforeStep(ctx, se)
	step.BeforeChunk(ctx, se)
	step.AfterChunkError(ctx, se, assert.AnError)
	step.OnRetry(ctx, 1, assert.AnError)
	step.OnSkip(ctx, assert.AnError)
	step.AfterStep(ctx, se)

	rl := logging.NewRepeatLoggingListener("counter")
	rc := repeat.NewContext(nil)
	assert.NoError(t, rl.Open(ctx, rc))
	assert.NoError(t, rl.After(ctx, rc, model.ExitStatusContinuable))
	assert.NoError(t, rl.OnError(ctx, rc, assert.AnError))
	assert.NoError(t, rl.Close(ctx, rc))
}
