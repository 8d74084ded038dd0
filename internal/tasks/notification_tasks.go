package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

const (
	ChannelConfirmationEmail = "email_confirmation"
	ChannelWelcomeEmail      = "email_welcome"
	ChannelWhatsapp          = "whatsapp"

	notificationMaxAttempt = 3
	notificationRetryDelay = 5 * time.Minute
)

// EnrollmentNotificationArgs defines the arguments for an enrollment notification task.
// An empty Channels list means every channel.
type EnrollmentNotificationArgs struct {
	CustomerID   string   `json:"customer_id"`
	Channels     []string `json:"channels,omitempty"`
	AttemptCount int      `json:"attempt_count"`
}

// SendEnrollmentNotificationsTaskDef sends the confirmation and welcome messages for a
// completed enrollment.
type SendEnrollmentNotificationsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendEnrollmentNotificationsTaskDef) TaskID() string {
	return "send_enrollment_notifications"
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendEnrollmentNotificationsTaskDef) CreateTask(args EnrollmentNotificationArgs, due time.Time) (*models.ScheduledTask, error) {
	if args.AttemptCount == 0 {
		args.AttemptCount = 1
	}
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, notificationMaxAttempt)
}

// HandleExecution delivers each requested channel. Failed channels are rescheduled in a
// new task until MaxAttempt is reached.
func (t *SendEnrollmentNotificationsTaskDef) HandleExecution(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error) {
	args, err := decodeArgs[EnrollmentNotificationArgs](task.Arguments)
	if err != nil {
		return nil, err
	}
	if args.CustomerID == "" {
		return nil, fmt.Errorf("customer_id not provided")
	}

	var customer models.Customer
	if err := env.DB.WithContext(ctx).Where("id = ?", args.CustomerID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("customer %s not found", args.CustomerID)
		}
		return nil, fmt.Errorf("failed to fetch customer: %w", err)
	}

	if !customer.IsEnrolled() {
		return map[string]interface{}{"status": "skipped", "reason": "enrollment not completed"}, nil
	}

	log := logger.Log.WithFields(logrus.Fields{
		"customer_id": customer.ID,
		"task_id":     task.ID,
		"attempt":     args.AttemptCount,
	})

	channels := args.Channels
	if len(channels) == 0 {
		channels = []string{ChannelConfirmationEmail, ChannelWelcomeEmail, ChannelWhatsapp}
	}

	var (
		sent, skipped []string
		failed        []string
		failures      []string
	)
	for _, channel := range channels {
		err := t.deliver(ctx, env, channel, &customer)
		switch {
		case errors.Is(err, errChannelDisabled):
			skipped = append(skipped, channel)
			env.countNotification(channel, "skipped")
		case err != nil:
			nerr := &services.NotificationError{Channel: channel, Recipient: customer.Email, Err: err}
			log.WithError(nerr).Warn("notification delivery failed")
			failed = append(failed, channel)
			failures = append(failures, nerr.Error())
			env.countNotification(channel, "failure")
		default:
			sent = append(sent, channel)
			env.countNotification(channel, "success")
		}
	}

	result := map[string]interface{}{
		"customer_id": customer.ID,
		"sent":        sent,
		"skipped":     skipped,
		"failed":      failed,
	}
	if len(failed) == 0 {
		log.WithField("sent", sent).Info("enrollment notifications delivered")
		return result, nil
	}

	result["errors"] = failures
	maxRetries := task.MaxAttempt
	if args.AttemptCount >= maxRetries {
		log.Errorf("Max attempts (%d) reached for channels %v", maxRetries, failed)
		return result, fmt.Errorf("max attempts reached, failed channels: %v", failed)
	}

	retry, err := t.CreateTask(EnrollmentNotificationArgs{
		CustomerID:   customer.ID,
		Channels:     failed,
		AttemptCount: args.AttemptCount + 1,
	}, time.Now().Add(notificationRetryDelay))
	if err != nil {
		return result, fmt.Errorf("failed to build retry task: %w", err)
	}
	retry.MaxAttempt = maxRetries
	if err := env.DB.WithContext(context.WithoutCancel(ctx)).Create(retry).Error; err != nil {
		return result, fmt.Errorf("failed to create retry task: %w", err)
	}

	log.Infof("Partial failure: rescheduled %v as task %d", failed, retry.ID)
	result["retry_task_id"] = retry.ID
	return result, nil
}

var errChannelDisabled = errors.New("channel not configured")

func (t *SendEnrollmentNotificationsTaskDef) deliver(ctx context.Context, env *Env, channel string, c *models.Customer) error {
	switch channel {
	case ChannelConfirmationEmail:
		if env.Email == nil || !env.Email.Configured() {
			return errChannelDisabled
		}
		return env.Email.SendPaymentConfirmation(c)
	case ChannelWelcomeEmail:
		if env.Email == nil || !env.Email.Configured() {
			return errChannelDisabled
		}
		return env.Email.SendWelcome(c)
	case ChannelWhatsapp:
		if env.Whatsapp == nil || !env.Whatsapp.Configured() {
			return errChannelDisabled
		}
		return env.Whatsapp.SendMessage(ctx, c.WhatsappNumber(), services.EnrollmentMessage(c, env.Course))
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}

// SendEnrollmentNotificationsTask is the singleton instance of SendEnrollmentNotificationsTaskDef
var SendEnrollmentNotificationsTask = &SendEnrollmentNotificationsTaskDef{}
