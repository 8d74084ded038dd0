package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

// DailyRule is the recurrence of the operator summary.
const DailyRule = "FREQ=DAILY;INTERVAL=1"

// EnrollmentSummaryTaskDef emails the operator the enrollment counts.
type EnrollmentSummaryTaskDef struct{}

func (t *EnrollmentSummaryTaskDef) TaskID() string {
	return "enrollment_summary"
}

// CreateTask builds a recurring summary task starting at first.
func (t *EnrollmentSummaryTaskDef) CreateTask(first time.Time, rule string) (*models.ScheduledTask, error) {
	if rule == "" {
		rule = DailyRule
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return nil, fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return BuildScheduledTask(t.TaskID(), map[string]interface{}{}, first, &rule, models.ScheduledTaskTypeRecurring, 1)
}

func (t *EnrollmentSummaryTaskDef) HandleExecution(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error) {
	var rows []struct {
		PaymentStatus models.PaymentStatus
		Count         int64
		Amount        int64
	}
	err := env.DB.WithContext(ctx).Model(&models.Customer{}).
		Select("payment_status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("payment_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}

	report := services.SummaryReport{Date: time.Now().Format("2006-01-02")}
	var revenue int64
	for _, r := range rows {
		switch r.PaymentStatus {
		case models.PaymentStatusCompleted:
			report.Completed = r.Count
			revenue = r.Amount
		case models.PaymentStatusPending:
			report.Pending = r.Count
		case models.PaymentStatusFailed:
			report.Failed = r.Count
		}
	}
	report.Total = report.Completed + report.Pending + report.Failed
	report.Revenue = services.FormatAmount(revenue, env.Course.Currency)

	result := map[string]interface{}{
		"completed": report.Completed,
		"pending":   report.Pending,
		"failed":    report.Failed,
		"revenue":   report.Revenue,
	}

	if env.OperatorEmail == "" || env.Email == nil || !env.Email.Configured() {
		logger.Log.Info("operator email not configured, summary not sent")
		result["status"] = "skipped"
		return result, nil
	}

	if err := env.Email.SendSummary(env.OperatorEmail, report); err != nil {
		env.countNotification("email_summary", "failure")
		return result, &services.NotificationError{Channel: "email_summary", Recipient: env.OperatorEmail, Err: err}
	}
	env.countNotification("email_summary", "success")
	result["status"] = "sent"
	return result, nil
}

// EnrollmentSummaryTask is the singleton instance of EnrollmentSummaryTaskDef
var EnrollmentSummaryTask = &EnrollmentSummaryTaskDef{}
