package logger_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxevent"
)

func captureLog(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := logger.GetLogLevel()
	logger.SetOutput(&buf)
	logger.SetLogLevel(level)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel(previous.String())
	})
	return &buf
}

func TestFxLoggerAdapter_FailuresAreErrors(t *testing.T) {
	buf := captureLog(t, "ERROR")
	adapter := logger.NewFxLoggerAdapter()

	adapter.LogEvent(&fxevent.Provided{ConstructorName: "sql.NewRepository", Err: errors.New("no dsn")})
	adapter.LogEvent(&fxevent.OnStartExecuted{FunctionName: "sql.Module.func1", Err: errors.New("migration failed")})
	adapter.LogEvent(&fxevent.OnStartExecuted{FunctionName: "metrics.Module.func2", Runtime: time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "[ERROR] fx: provide sql.NewRepository failed: no dsn")
	assert.Contains(t, out, "[ERROR] fx: OnStart hook sql.Module failed: migration failed")
	assert.NotContains(t, out, "metrics.Module")
}

func TestFxLoggerAdapter_WiringStaysQuietAtInfo(t *testing.T) {
	buf := captureLog(t, "INFO")
	adapter := logger.NewFxLoggerAdapter()

	adapter.LogEvent(&fxevent.Provided{OutputTypeNames: []string{"*config.Config"}})
	adapter.LogEvent(&fxevent.Invoked{FunctionName: "tracing.RegisterTracingListeners"})
	adapter.LogEvent(&fxevent.OnStopExecuted{FunctionName: "tasklet.NewFactory.func3", Runtime: time.Second})
	assert.Empty(t, buf.String())

	adapter.LogEvent(&fxevent.Started{})
	assert.Contains(t, buf.String(), "[INFO] chunkflow application started.")
}

func TestFxLoggerAdapter_HookTimingAtDebug(t *testing.T) {
	buf := captureLog(t, "DEBUG")
	adapter := logger.NewFxLoggerAdapter()

	adapter.LogEvent(&fxevent.OnStopExecuted{FunctionName: "tasklet.NewFactory.func3", Runtime: 2 * time.Second})

	assert.Contains(t, buf.String(), "[DEBUG] fx: OnStop hook tasklet.NewFactory done in 2s")
}
