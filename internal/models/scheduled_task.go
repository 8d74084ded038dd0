package models

import (
	"time"

	"github.com/teambition/rrule-go"
)

// ScheduledTaskStatus is the lifecycle of an outbox row. The runner claims
// a row by moving it from active to running.
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusActive   ScheduledTaskStatus = "active"
	ScheduledTaskStatusRunning  ScheduledTaskStatus = "running"
	ScheduledTaskStatusDone     ScheduledTaskStatus = "done"
	ScheduledTaskStatusFailure  ScheduledTaskStatus = "failure"
	ScheduledTaskStatusDisabled ScheduledTaskStatus = "disabled"
)

// ScheduledTaskType separates one-shot dispatches from RRULE schedules.
type ScheduledTaskType string

const (
	ScheduledTaskTypeOneTime   ScheduledTaskType = "onetime"
	ScheduledTaskTypeRecurring ScheduledTaskType = "recurring"
)

// ScheduledTask is an outbox row: notification dispatches and recurring reports.
type ScheduledTask struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskName          string                 `gorm:"type:varchar(255)" json:"task_name"`
	Arguments         map[string]interface{} `gorm:"serializer:json" json:"arguments"`
	LastRun           *time.Time             `json:"last_run"`
	Due               time.Time              `gorm:"index:idx_scheduled_tasks_status_due,priority:2" json:"due"`
	RecurringInterval *string                `gorm:"type:text" json:"recurring_interval"`
	Status            ScheduledTaskStatus    `gorm:"type:varchar(20);index:idx_scheduled_tasks_status_due,priority:1" json:"status"`
	TaskType          ScheduledTaskType      `gorm:"type:varchar(20);default:'onetime'" json:"task_type"`
	MaxAttempt        int                    `json:"max_attempt"`
}

// NextDue returns the first occurrence of the recurrence rule strictly after
// now, anchored at Due. One-time tasks and unparsable rules keep Due.
func (t ScheduledTask) NextDue(now time.Time) time.Time {
	if t.TaskType != ScheduledTaskTypeRecurring || t.RecurringInterval == nil || *t.RecurringInterval == "" {
		return t.Due
	}
	rule, err := rrule.StrToRRule(*t.RecurringInterval)
	if err != nil {
		return t.Due
	}
	rule.DTStart(t.Due)
	if next := rule.After(now, false); !next.IsZero() {
		return next
	}
	return t.Due
}

// ScheduledTaskHistory is one execution attempt, with the handler's result.
type ScheduledTaskHistory struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	ScheduledTaskID uint      `gorm:"index" json:"scheduled_task_id"`

	TaskName      string                 `gorm:"type:varchar(255)" json:"task_name"`
	RunAt         time.Time              `json:"run_at"`
	Runtime       int                    `json:"runtime"` // milliseconds
	Status        string                 `gorm:"type:varchar(50)" json:"status"`
	AttemptNumber int                    `json:"attempt_number"`
	Arguments     map[string]interface{} `gorm:"serializer:json" json:"arguments"`
	Result        map[string]interface{} `gorm:"serializer:json" json:"result"`
}
