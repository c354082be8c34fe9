package tasklet

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ExitStatusClassifier maps the error that ended a step to the exit status recorded for it.
type ExitStatusClassifier interface {
	Classify(ctx context.Context, err error) model.ExitStatus
}

// DefaultExitStatusClassifier records interruptions as STOPPED and everything else as FAILED,
// with the error message as description.
type DefaultExitStatusClassifier struct{}

func (DefaultExitStatusClassifier) Classify(ctx context.Context, err error) model.ExitStatus {
	if err == nil {
		return model.ExitStatusCompleted
	}
	if isInterruption(ctx, err) {
		return model.ExitStatusStopped.WithDescription(exception.ExtractErrorMessage(err))
	}
	return model.ExitStatusFailed.WithDescription(exception.ExtractErrorMessage(err))
}

// stoppedStatus returns the batch status requested by an interruption. It is STOPPED unless the
// JobInterruptedError asks for FAILED.
func stoppedStatus(err error) model.BatchStatus {
	var ie *exception.JobInterruptedError
	if errors.As(err, &ie) && ie.Status == string(model.BatchStatusFailed) {
		return model.BatchStatusFailed
	}
	return model.BatchStatusStopped
}

// ExitCodeMapper translates exit codes into process exit statuses.
type ExitCodeMapper struct {
	mapping     map[string]int
	defaultCode int
}

// NewExitCodeMapper creates a mapper with COMPLETED and NOOP mapped to 0 and everything else to 1.
func NewExitCodeMapper() *ExitCodeMapper {
	return &ExitCodeMapper{
		mapping: map[string]int{
			model.ExitCodeCompleted: 0,
			model.ExitCodeNoOp:      0,
			model.ExitCodeFailed:    1,
			model.ExitCodeStopped:   1,
		},
		defaultCode: 1,
	}
}

// WithMapping adds or replaces mappings.
func (m *ExitCodeMapper) WithMapping(mapping map[string]int) *ExitCodeMapper {
	for code, status := range mapping {
		m.mapping[code] = status
	}
	return m
}

// IntValue returns the process exit status for an exit code.
func (m *ExitCodeMapper) IntValue(exitCode string) int {
	if v, ok := m.mapping[exitCode]; ok {
		return v
	}
	return m.defaultCode
}
