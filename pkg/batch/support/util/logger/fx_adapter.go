package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes fx container events into the package logger. Only the events the chunkflow
// modules produce are handled: failures at ERROR, lifecycle hooks at DEBUG, wiring at TRACE.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter is passed to fx.WithLogger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", hookName(e.ConstructorName), e.Err)
			return
		}
		Tracef("fx: provided %s", strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Tracef("fx: invoked %s", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		logHook("OnStart", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuted:
		logHook("OnStop", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
			return
		}
		Infof("chunkflow application started.")
	case *fxevent.Stopping:
		Debugf("fx: received %s, stopping", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("fx: stop failed: %v", e.Err)
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: logger initialization failed: %v", e.Err)
		}
	}
}

func logHook(kind, function, runtime string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, hookName(function), err)
		return
	}
	Debugf("fx: %s hook %s done in %s", kind, hookName(function), runtime)
}

// hookName trims the closure suffix fx reports for anonymous hooks ("pkg.Register.func1" -> "pkg.Register").
func hookName(function string) string {
	if idx := strings.LastIndex(function, ".func"); idx != -1 {
		return function[:idx]
	}
	return function
}
