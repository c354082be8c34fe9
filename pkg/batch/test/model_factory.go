package test

import (
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NewTestStepInstance creates a StepInstance carrying the given restart data.
func NewTestStepInstance(jobName, stepName string, restartData map[string]interface{}) *model.StepInstance {
	si := model.NewStepInstance(jobName, stepName)
	for k, v := range restartData {
		si.RestartData.Put(k, v)
	}
	return si
}

// NewTestStepExecution creates a started StepExecution of the instance.
func NewTestStepExecution(instance *model.StepInstance) *model.StepExecution {
	se := model.NewStepExecution(instance)
	se.MarkAsStarted()
	return se
}
