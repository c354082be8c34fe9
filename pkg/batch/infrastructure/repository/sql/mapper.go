package sql

import (
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func fromDomainStepInstance(si *model.StepInstance) *StepInstanceEntity {
	return &StepInstanceEntity{
		ID:              si.ID,
		JobName:         si.JobName,
		StepName:        si.StepName,
		RestartData:     si.RestartData,
		ExecutionCount:  si.ExecutionCount,
		LastExecutionID: si.LastExecutionID,
		Status:          si.Status.String(),
		LastUpdated:     si.LastUpdated,
		Version:         si.Version,
	}
}

func toDomainStepInstance(e *StepInstanceEntity) *model.StepInstance {
	restartData := e.RestartData
	if restartData == nil {
		restartData = model.NewExecutionContext()
	}
	return &model.StepInstance{
		ID:              e.ID,
		JobName:         e.JobName,
		StepName:        e.StepName,
		RestartData:     restartData,
		ExecutionCount:  e.ExecutionCount,
		LastExecutionID: e.LastExecutionID,
		Status:          model.BatchStatus(e.Status),
		LastUpdated:     e.LastUpdated,
		Version:         e.Version,
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:              se.ID,
		StepInstanceID:  se.StepInstanceID,
		JobName:         se.JobName,
		StepName:        se.StepName,
		StartTime:       se.StartTime,
		EndTime:         se.EndTime,
		Status:          se.Status.String(),
		ExitCode:        se.ExitStatus.ExitCode,
		ExitDescription: se.ExitStatus.ExitDescription,
		Failures:        se.Failures,
		CommitCount:     se.CommitCount,
		RollbackCount:   se.RollbackCount,
		TaskCount:       se.TaskCount,
		SkipCount:       se.SkipCount,
		RetryCount:      se.RetryCount,
		Statistics:      se.Statistics,
		LastUpdated:     se.LastUpdated,
		Version:         se.Version,
	}
}

// toDomainStepExecution restores an execution. Continuable is derived from the exit code:
// only UNKNOWN and CONTINUABLE keep a loop going.
func toDomainStepExecution(e *StepExecutionEntity) *model.StepExecution {
	failures := e.Failures
	if failures == nil {
		failures = make(model.FailureList, 0)
	}
	statistics := e.Statistics
	if statistics == nil {
		statistics = model.NewExecutionContext()
	}
	return &model.StepExecution{
		ID:             e.ID,
		StepInstanceID: e.StepInstanceID,
		JobName:        e.JobName,
		StepName:       e.StepName,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		Status:         model.BatchStatus(e.Status),
		ExitStatus: model.ExitStatus{
			Continuable:     e.ExitCode == model.ExitCodeUnknown || e.ExitCode == model.ExitCodeContinuable,
			ExitCode:        e.ExitCode,
			ExitDescription: e.ExitDescription,
		},
		Failures:      failures,
		CommitCount:   e.CommitCount,
		RollbackCount: e.RollbackCount,
		TaskCount:     e.TaskCount,
		SkipCount:     e.SkipCount,
		RetryCount:    e.RetryCount,
		Statistics:    statistics,
		LastUpdated:   e.LastUpdated,
		Version:       e.Version,
	}
}
