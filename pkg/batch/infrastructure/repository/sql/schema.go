package sql

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

const (
	stepInstanceTable  = "chunkflow_step_instance"
	stepExecutionTable = "chunkflow_step_execution"
)

// StepInstanceEntity is the row of chunkflow_step_instance.
type StepInstanceEntity struct {
	ID              string `gorm:"primaryKey"`
	JobName         string
	StepName        string
	RestartData     model.ExecutionContext
	ExecutionCount  int
	LastExecutionID string
	Status          string
	LastUpdated     time.Time
	Version         int
}

func (StepInstanceEntity) TableName() string {
	return stepInstanceTable
}

// StepExecutionEntity is the row of chunkflow_step_execution.
type StepExecutionEntity struct {
	ID              string `gorm:"primaryKey"`
	StepInstanceID  string
	JobName         string
	StepName        string
	StartTime       time.Time
	EndTime         *time.Time
	Status          string
	ExitCode        string
	ExitDescription string
	Failures        model.FailureList
	CommitCount     int
	RollbackCount   int
	TaskCount       int
	SkipCount       int
	RetryCount      int
	Statistics      model.ExecutionContext
	LastUpdated     time.Time
	Version         int
}

func (StepExecutionEntity) TableName() string {
	return stepExecutionTable
}
