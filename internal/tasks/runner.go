package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

const dispatchTimeout = 2 * time.Minute

// Runner executes scheduled tasks. Both the worker loop and in-process dispatch go
// through Execute, which claims a task with active -> running before running it, so a
// task is executed at most once per claim.
type Runner struct {
	env      *Env
	registry *Registry
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewRunner(env *Env, registry *Registry) *Runner {
	if registry == nil {
		registry = GlobalRegistry
	}
	return &Runner{env: env, registry: registry, now: time.Now}
}

// EnqueueEnrollmentNotifications stores a notification task using tx, so the task only
// exists if the surrounding status transition commits.
func (r *Runner) EnqueueEnrollmentNotifications(tx *gorm.DB, customerID string) (uint, error) {
	task, err := SendEnrollmentNotificationsTask.CreateTask(EnrollmentNotificationArgs{CustomerID: customerID}, r.now())
	if err != nil {
		return 0, err
	}
	if err := tx.Create(task).Error; err != nil {
		return 0, err
	}
	return task.ID, nil
}

// DispatchNow runs a task in the background. If the process dies first, the worker
// picks the task up on its next tick.
func (r *Runner) DispatchNow(taskID uint) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := r.RunByID(ctx, taskID); err != nil {
			logger.Log.WithError(err).WithField("task_id", taskID).Warn("background task dispatch failed")
		}
	}()
}

// Wait blocks until every background dispatch has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunByID loads and executes one task.
func (r *Runner) RunByID(ctx context.Context, taskID uint) error {
	var task models.ScheduledTask
	if err := r.env.DB.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}
	_, err := r.Execute(ctx, task)
	return err
}

// ProcessDue executes every active task whose due time has passed and returns how many
// were run by this call.
func (r *Runner) ProcessDue(ctx context.Context) int {
	var pendingTasks []models.ScheduledTask
	now := r.now()
	if err := r.env.DB.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due ASC").
		Find(&pendingTasks).Error; err != nil {
		logger.Log.WithError(err).Error("Error fetching pending tasks")
		return 0
	}

	if len(pendingTasks) == 0 {
		logger.Log.Debug("No pending tasks found.")
		return 0
	}

	logger.Log.Infof("Found %d pending tasks.", len(pendingTasks))

	ran := 0
	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			break
		}
		claimed, err := r.Execute(ctx, task)
		if err != nil {
			logger.Log.WithError(err).WithField("task_id", task.ID).Error("task execution failed")
		}
		if claimed {
			ran++
		}
	}
	return ran
}

// RecoverStale returns tasks stuck in running for longer than olderThan to active.
func (r *Runner) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := r.env.DB.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("status = ? AND updated_at < ?", models.ScheduledTaskStatusRunning, r.now().Add(-olderThan)).
		Update("status", models.ScheduledTaskStatusActive)
	return res.RowsAffected, res.Error
}

// Execute claims and runs a task. claimed is false when another runner got it first.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) (claimed bool, err error) {
	db := r.env.DB.WithContext(ctx)

	res := db.Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ?", task.ID, models.ScheduledTaskStatusActive).
		Update("status", models.ScheduledTaskStatusRunning)
	if res.Error != nil {
		return false, fmt.Errorf("claim task %d: %w", task.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	// Once claimed, the outcome must be stored even if ctx ends mid-run;
	// a task left in running is recovered and delivered again.
	db = r.env.DB.WithContext(context.WithoutCancel(ctx))

	log := logger.Log.WithFields(logrus.Fields{"task": task.TaskName, "task_id": task.ID})
	log.Info("Processing task")

	attempt := attemptOf(task)

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		now := r.now()
		log.Warn("Task handler not found. Marking as failure.")
		db.Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		r.recordHistory(db, task, now, 0, "handler_not_found", attempt, map[string]interface{}{"error": "Handler not found"})
		return true, fmt.Errorf("no handler for task %q", task.TaskName)
	}

	startTime := r.now()
	result, runErr := r.safeRun(ctx, handler, task)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	if runErr != nil {
		status = "failure"
		if result == nil {
			result = map[string]interface{}{}
		}
		result["error"] = runErr.Error()
		log.WithError(runErr).Warn("Task failed")
	} else {
		log.Info("Task completed successfully.")
	}
	r.recordHistory(db, task, startTime, runtimeMs, status, attempt, result)

	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		nextDue := task.NextDue(startTime)
		if nextDue.After(task.Due) {
			taskUpdates["status"] = models.ScheduledTaskStatusActive
			taskUpdates["due"] = nextDue
		} else {
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		}
	default:
		if runErr != nil {
			taskUpdates["status"] = models.ScheduledTaskStatusFailure
		} else {
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		}
	}

	if err := db.Model(&task).Updates(taskUpdates).Error; err != nil {
		return true, fmt.Errorf("update task %d: %w", task.ID, err)
	}
	return true, runErr
}

func (r *Runner) safeRun(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return handler(ctx, r.env, task)
}

func (r *Runner) recordHistory(db *gorm.DB, task models.ScheduledTask, runAt time.Time, runtimeMs int, status string, attempt int, result map[string]interface{}) {
	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := db.Create(&history).Error; err != nil {
		logger.Log.WithError(err).Warn("failed to record task history")
	}
}

func attemptOf(task models.ScheduledTask) int {
	if n, ok := task.Arguments["attempt_count"].(float64); ok && n > 0 {
		return int(n)
	}
	return 1
}
