// Package events provides event types and publishing infrastructure for
// forge's orchestration pipeline.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventPhaseStarted indicates a pipeline phase began.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted indicates a pipeline phase finished.
	EventPhaseCompleted EventType = "phase_completed"
	// EventPhaseFailed indicates a pipeline phase failed.
	EventPhaseFailed EventType = "phase_failed"

	// EventPlanReady indicates a plan awaits human review.
	EventPlanReady EventType = "plan_ready"
	// EventPlanApproved indicates the reviewer accepted the plan.
	EventPlanApproved EventType = "plan_approved"
	// EventPlanRejected indicates the reviewer sent the plan back.
	EventPlanRejected EventType = "plan_rejected"

	// EventWaveStarted indicates a wave of tasks was claimed.
	EventWaveStarted EventType = "wave_started"
	// EventWaveCompleted indicates every task of a wave reached a
	// terminal status.
	EventWaveCompleted EventType = "wave_completed"

	// EventTaskDispatched indicates a claimed task was handed to a worker.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task finished successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task exhausted its retry budget.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetrying indicates a task attempt failed and will be retried.
	EventTaskRetrying EventType = "task_retrying"

	// EventProjectCompleted indicates the project reached the complete phase.
	EventProjectCompleted EventType = "project_completed"
	// EventProjectFailed indicates the project reached the failed phase.
	EventProjectFailed EventType = "project_failed"
)

// Event represents a published event.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Time      time.Time `json:"time"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, projectID, taskID string, data any) Event {
	return Event{
		Type:      t,
		ProjectID: projectID,
		TaskID:    taskID,
		Data:      data,
		Time:      time.Now().UTC(),
	}
}
