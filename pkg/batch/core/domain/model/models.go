package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of a step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished checks if the BatchStatus represents a finished state.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped:
		return true
	default:
		return false
	}
}

// ExecutionContext is a key-value store used for restart data and statistics.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements the `driver.Valuer` interface, converting the ExecutionContext to a JSON string.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to an ExecutionContext.
func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*ec = make(ExecutionContext)
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// Put sets a value in the ExecutionContext with the specified key and value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get retrieves the value for the specified key. Returns nil and false if the value does not exist.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	val, ok := ec[key]
	return val, ok
}

// GetString retrieves the value for the specified key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	str, ok := ec[key].(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
// Numbers decoded from JSON arrive as float64 and are converted.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	switch v := ec[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	if ec == nil {
		return nil
	}
	newEC := make(ExecutionContext, len(ec))
	for k, v := range ec {
		newEC[k] = v
	}
	return newEC
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

func scanBytes(value interface{}, target string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported Scan type for %s: %T", target, value)
	}
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// StepInstance is the logical, restartable identity of a step within a job.
// Restart data saved after each committed chunk lives here so that a later execution can resume.
type StepInstance struct {
	ID              string
	JobName         string
	StepName        string
	RestartData     ExecutionContext
	ExecutionCount  int
	LastExecutionID string
	Status          BatchStatus
	LastUpdated     time.Time
	Version         int
}

// NewStepInstance creates a new StepInstance with no executions.
func NewStepInstance(jobName, stepName string) *StepInstance {
	return &StepInstance{
		ID:          NewID(),
		JobName:     jobName,
		StepName:    stepName,
		RestartData: NewExecutionContext(),
		Status:      BatchStatusUnknown,
		LastUpdated: time.Now(),
	}
}

// IsRestart reports whether the instance has been executed before.
func (si *StepInstance) IsRestart() bool {
	return si.ExecutionCount > 0
}

// Copy returns a deep copy of the instance.
func (si *StepInstance) Copy() *StepInstance {
	c := *si
	c.RestartData = si.RestartData.Copy()
	return &c
}

// StepExecution is a single run of a StepInstance.
type StepExecution struct {
	ID             string
	StepInstanceID string
	StepName       string
	JobName        string
	StartTime      time.Time
	EndTime        *time.Time
	Status         BatchStatus
	ExitStatus     ExitStatus
	Failures       FailureList
	CommitCount    int
	RollbackCount  int
	TaskCount      int
	SkipCount      int
	RetryCount     int
	Statistics     ExecutionContext
	LastUpdated    time.Time
	Version        int

	terminateOnly int32
}

// NewStepExecution creates a new StepExecution for the given instance.
func NewStepExecution(instance *StepInstance) *StepExecution {
	now := time.Now()
	return &StepExecution{
		ID:             NewID(),
		StepInstanceID: instance.ID,
		StepName:       instance.StepName,
		JobName:        instance.JobName,
		StartTime:      now,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		Failures:       make(FailureList, 0),
		Statistics:     NewExecutionContext(),
		LastUpdated:    now,
	}
}

// Copy returns a deep copy of the execution, including the terminate flag.
func (se *StepExecution) Copy() *StepExecution {
	c := &StepExecution{
		ID:             se.ID,
		StepInstanceID: se.StepInstanceID,
		StepName:       se.StepName,
		JobName:        se.JobName,
		StartTime:      se.StartTime,
		Status:         se.Status,
		ExitStatus:     se.ExitStatus,
		Failures:       append(FailureList(nil), se.Failures...),
		CommitCount:    se.CommitCount,
		RollbackCount:  se.RollbackCount,
		TaskCount:      se.TaskCount,
		SkipCount:      se.SkipCount,
		RetryCount:     se.RetryCount,
		Statistics:     se.Statistics.Copy(),
		LastUpdated:    se.LastUpdated,
		Version:        se.Version,
		terminateOnly:  atomic.LoadInt32(&se.terminateOnly),
	}
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	return c
}

// SetTerminateOnly requests that the step stops at its next interruption check.
// Safe to call from any goroutine.
func (se *StepExecution) SetTerminateOnly() {
	atomic.StoreInt32(&se.terminateOnly, 1)
}

// IsTerminateOnly reports whether a stop was requested.
func (se *StepExecution) IsTerminateOnly() bool {
	return atomic.LoadInt32(&se.terminateOnly) == 1
}

// isValidStepTransition checks if the state transition for StepExecution is valid.
func isValidStepTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed
	default:
		return false
	}
}

// TransitionTo safely transitions the state of StepExecution.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): Invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	return nil
}

func (se *StepExecution) forceTransition(newStatus BatchStatus) {
	if err := se.TransitionTo(newStatus); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, newStatus, err)
		se.Status = newStatus
	}
	se.LastUpdated = time.Now()
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.forceTransition(BatchStatusStarted)
	se.StartTime = se.LastUpdated
	se.ExitStatus = ExitStatusUnknown
}

// MarkAsCompleted updates the StepExecution status to COMPLETED and records the exit status.
func (se *StepExecution) MarkAsCompleted(exitStatus ExitStatus) {
	se.forceTransition(BatchStatusCompleted)
	se.ExitStatus = exitStatus
	se.markEnded()
}

// MarkAsFailed updates the StepExecution status to FAILED and adds error information.
func (se *StepExecution) MarkAsFailed(exitStatus ExitStatus, err error) {
	se.forceTransition(BatchStatusFailed)
	se.ExitStatus = exitStatus
	se.markEnded()
	se.AddFailureException(err)
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped(exitStatus ExitStatus) {
	se.forceTransition(BatchStatusStopped)
	se.ExitStatus = exitStatus
	se.markEnded()
}

func (se *StepExecution) markEnded() {
	now := se.LastUpdated
	se.EndTime = &now
}

// AddFailureException adds error information to StepExecution. It avoids adding duplicate errors.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range se.Failures {
		if existing == errMsg {
			logger.Debugf("Skipped adding duplicate error '%s' to StepExecution (ID: %s).", errMsg, se.ID)
			return
		}
	}
	se.Failures = append(se.Failures, errMsg)
	se.LastUpdated = time.Now()
}

// IncrementRollbackCount records a rolled back chunk.
func (se *StepExecution) IncrementRollbackCount() {
	se.RollbackCount++
	se.LastUpdated = time.Now()
}

// Apply folds a committed chunk's contribution into the execution and counts the commit.
func (se *StepExecution) Apply(c *Contribution) {
	se.TaskCount += c.TaskCount()
	se.SkipCount += c.SkipCount()
	se.RetryCount += c.RetryCount()
	se.CommitCount++
	se.LastUpdated = time.Now()
}

// Unapply reverts Apply when persisting the commit failed.
func (se *StepExecution) Unapply(c *Contribution) {
	se.TaskCount -= c.TaskCount()
	se.SkipCount -= c.SkipCount()
	se.RetryCount -= c.RetryCount()
	se.CommitCount--
}

// RetainSkips keeps the skips of a rolled back chunk. Each one follows a recovery that committed
// in its own transaction, so it outlives the chunk.
func (se *StepExecution) RetainSkips(c *Contribution) {
	se.SkipCount += c.SkipCount()
	se.LastUpdated = time.Now()
}

// DebugString returns a compact, single line representation for logging.
func (se *StepExecution) DebugString() string {
	return fmt.Sprintf("&{ID:%s StepName:%s Status:%s ExitStatus:%s CommitCount:%d RollbackCount:%d TaskCount:%d SkipCount:%d RetryCount:%d Failures:%v Version:%d}",
		se.ID, se.StepName, se.Status, se.ExitStatus.ExitCode, se.CommitCount, se.RollbackCount,
		se.TaskCount, se.SkipCount, se.RetryCount, se.Failures, se.Version)
}

// Contribution accumulates the counters of one chunk. Tasklet invocations of a throttled chunk
// update it concurrently; the totals reach the StepExecution only when the chunk commits.
type Contribution struct {
	taskCount  int64
	skipCount  int64
	retryCount int64
}

// NewContribution creates an empty Contribution.
func NewContribution() *Contribution {
	return &Contribution{}
}

func (c *Contribution) IncrementTaskCount()  { atomic.AddInt64(&c.taskCount, 1) }
func (c *Contribution) IncrementSkipCount()  { atomic.AddInt64(&c.skipCount, 1) }
func (c *Contribution) IncrementRetryCount() { atomic.AddInt64(&c.retryCount, 1) }

func (c *Contribution) TaskCount() int  { return int(atomic.LoadInt64(&c.taskCount)) }
func (c *Contribution) SkipCount() int  { return int(atomic.LoadInt64(&c.skipCount)) }
func (c *Contribution) RetryCount() int { return int(atomic.LoadInt64(&c.retryCount)) }
