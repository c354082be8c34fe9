package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/tracing"
	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
)

type mockTracer struct {
	mock.Mock
}

func (m *mockTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	m.Called(ctx, execution)
	return ctx, func() {}
}
func (m *mockTracer) StartChunkSpan(ctx context.Context, stepName string, chunk int) (context.Context, func()) {
	m.Called(ctx, stepName, chunk)
	return ctx, func() {}
}
func (m *mockTracer) RecordError(ctx context.Context, module string, err error) {
	m.Called(ctx, module, err)
}
func (m *mockTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	m.Called(ctx, name, attributes)
}

func TestTracingListener(t *testing.T) {
	boom := errors.New("boom")
	tracer := &mockTracer{}
	tracer.On("RecordEvent", mock.Anything, "task_retry", map[string]interface{}{
		"step_name": "counter", "attempt": 2, "error": "boom",
	}).Once()
	tracer.On("RecordEvent", mock.Anything, "task_skip", map[string]interface{}{
		"step_name": "counter", "error": "boom",
	}).Once()
	tracer.On("RecordError", mock.Anything, "counter", boom).Once()
	l := tracing.NewTracingListener(tracer, "counter")
	ctx := context.Background()

	l.OnRetry(ctx, 2, boom)
	l.OnSkip(ctx, boom)
	require.NoError(t, l.OnError(ctx, repeat.NewContext(nil), boom))

	tracer.AssertExpectations(t)
}
