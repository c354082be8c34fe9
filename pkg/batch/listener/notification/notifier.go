package notification

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Notifier is an abstract interface for notifying external systems about step execution results.
type Notifier interface {
	// NotifyStepCompletion notifies about the end of a step (completed, failed or stopped).
	NotifyStepCompletion(ctx context.Context, execution *model.StepExecution)
}

// LogNotifier is a notifier that only logs notifications.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// FormatStepCompletion renders the notification message for an ended step.
func FormatStepCompletion(execution *model.StepExecution) string {
	duration := time.Duration(0)
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}
	return fmt.Sprintf(
		"Step Notification: Step '%s/%s' (ID: %s) finished with Status: %s, ExitCode: %s. Duration: %s, Commits: %d, Skips: %d, Failures: %d",
		execution.JobName,
		execution.StepName,
		execution.ID,
		execution.Status,
		execution.ExitStatus.ExitCode,
		duration,
		execution.CommitCount,
		execution.SkipCount,
		len(execution.Failures),
	)
}

// NotifyStepCompletion logs the step summary, at WARN unless the step completed.
func (n *LogNotifier) NotifyStepCompletion(ctx context.Context, execution *model.StepExecution) {
	message := FormatStepCompletion(execution)
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

var _ Notifier = (*LogNotifier)(nil)

// NotificationListener sends a notification when a step ends.
type NotificationListener struct {
	notifier Notifier
}

// NewNotificationListener creates a new instance of NotificationListener.
func NewNotificationListener(notifier Notifier) *NotificationListener {
	return &NotificationListener{notifier: notifier}
}

// BeforeStep exists to satisfy StepExecutionListener requirements but does nothing.
func (l *NotificationListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {}

// AfterStep calls the notifier.
func (l *NotificationListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	l.notifier.NotifyStepCompletion(ctx, stepExecution)
}

var _ port.StepExecutionListener = (*NotificationListener)(nil)
