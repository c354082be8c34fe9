package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	inframetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
)

func attributeValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOpenTelemetryTracer_StepAndChunkSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := inframetrics.NewOpenTelemetryTracer(provider)
	se := newRunningExecution()

	stepCtx, endStep := tracer.StartStepSpan(context.Background(), se)
	chunkCtx, endChunk := tracer.StartChunkSpan(stepCtx, "counter", 1)
	tracer.RecordEvent(chunkCtx, "chunk_committed", map[string]interface{}{"commit_count": 1, "outcome": "commit"})
	endChunk()

	failure := errors.New("disk full")
	tracer.RecordError(stepCtx, "counter", failure)
	se.CommitCount = 1
	se.MarkAsFailed(model.ExitStatusFailed.WithDescription("disk full"), failure)
	endStep()

	ended := spans.Ended()
	require.Len(t, ended, 2)
	chunk, step := ended[0], ended[1]

	assert.Equal(t, "chunk counter", chunk.Name())
	assert.Equal(t, step.SpanContext().SpanID(), chunk.Parent().SpanID())
	require.Len(t, chunk.Events(), 1)
	assert.Equal(t, "chunk_committed", chunk.Events()[0].Name)
	commits, ok := attributeValue(chunk.Events()[0].Attributes, "commit_count")
	require.True(t, ok)
	assert.Equal(t, int64(1), commits.AsInt64())

	assert.Equal(t, "step counter", step.Name())
	assert.Equal(t, codes.Error, step.Status().Code)
	status, ok := attributeValue(step.Attributes(), "chunkflow.status")
	require.True(t, ok)
	assert.Equal(t, "FAILED", status.AsString())
	require.Len(t, step.Events(), 1, "the error is recorded as a span event")
}

func TestOpenTelemetryTracer_RecordErrorIgnoresNil(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tracer := inframetrics.NewOpenTelemetryTracer(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))

	ctx, end := tracer.StartChunkSpan(context.Background(), "counter", 3)
	tracer.RecordError(ctx, "counter", nil)
	end()

	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, codes.Unset, spans.Ended()[0].Status().Code)
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is a sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestOTelMetricRecorder_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	recorder, err := inframetrics.NewOTelMetricRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	se := newRunningExecution()
	ctx := port.GetContextWithStepExecution(context.Background(), se)

	recorder.RecordStepStart(ctx, se)
	recorder.RecordTaskExecution(ctx, "counter", model.ExitCodeContinuable)
	recorder.RecordTaskExecution(ctx, "counter", model.ExitCodeCompleted)
	recorder.RecordTaskSkip(ctx, "counter", "ErrBadRecord")
	recorder.RecordChunkCommit(ctx, "counter", 2)
	recorder.RecordChunkRollback(ctx, "counter")
	recorder.RecordDuration(ctx, "chunk", 10*time.Millisecond, map[string]string{"step_name": "counter"})

	assert.Equal(t, int64(2), collectSum(t, reader, "chunkflow.task.executions"))
	assert.Equal(t, int64(1), collectSum(t, reader, "chunkflow.task.skips"))
	assert.Equal(t, int64(1), collectSum(t, reader, "chunkflow.chunk.commits"))
	assert.Equal(t, int64(2), collectSum(t, reader, "chunkflow.task.committed"))
	assert.Equal(t, int64(1), collectSum(t, reader, "chunkflow.chunk.rollbacks"))
	assert.Equal(t, int64(1), collectSum(t, reader, "chunkflow.step.status"))
}

func TestNewSpanExporter_UnknownProtocol(t *testing.T) {
	_, err := inframetrics.NewSpanExporter(context.Background(), config.OTLPConfig{Protocol: "udp"})
	assert.Error(t, err)
	_, err = inframetrics.NewMetricExporter(context.Background(), config.OTLPConfig{Protocol: "udp"})
	assert.Error(t, err)
}

func TestNewTracerProvider_HTTPAndGRPC(t *testing.T) {
	for _, protocol := range []string{inframetrics.ProtocolHTTP, inframetrics.ProtocolGRPC} {
		t.Run(protocol, func(t *testing.T) {
			cfg := config.NewConfig().Chunkflow.Observability
			cfg.OTLP = config.OTLPConfig{Enabled: true, Protocol: protocol, Endpoint: "localhost:4317", Insecure: true}

			tp, err := inframetrics.NewTracerProvider(context.Background(), cfg)
			require.NoError(t, err)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
	}
}
