package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/internal/tasks"
)

func main() {
	customerID := flag.String("customer_id", "", "Customer id whose enrollment notifications are queued again")
	channels := flag.String("channels", "", "Comma separated channels (email_confirmation,email_welcome,whatsapp); default all")
	summary := flag.Bool("summary", false, "Schedule the recurring daily enrollment summary instead")
	dueStr := flag.String("due", "", "Due date (optional, format: 2006-01-02 15:04 or RFC3339; default now)")
	rule := flag.String("recurring", tasks.DailyRule, "RRULE for the summary task")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts for notification tasks")

	flag.Parse()

	if *customerID == "" && !*summary {
		fmt.Println("Usage: resend_notification -customer_id <id> [-channels a,b] [-due <YYYY-MM-DD HH:MM>]")
		fmt.Println("       resend_notification -summary [-due <YYYY-MM-DD HH:MM>] [-recurring <RRULE>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.MustLoad()
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	db, err := services.OpenDatabase(cfg.Database.URL, false)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	due := time.Now()
	if *dueStr != "" {
		due, err = time.Parse(time.RFC3339, *dueStr)
		if err != nil {
			due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
			if err != nil {
				log.Fatalf("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339: %v", err)
			}
		}
	}

	if *summary {
		task, err := tasks.EnrollmentSummaryTask.CreateTask(due, *rule)
		if err != nil {
			log.Fatalf("Invalid summary task: %v", err)
		}
		if err := db.Create(task).Error; err != nil {
			log.Fatalf("Failed to create task: %v", err)
		}
		fmt.Printf("Successfully created task ID: %d\n", task.ID)
		fmt.Printf("Task: %s\nDue: %s\nRule: %s\n", task.TaskName, task.Due, *rule)
		return
	}

	var customer models.Customer
	if err := db.Where("id = ?", *customerID).First(&customer).Error; err != nil {
		log.Fatalf("Customer %s not found: %v", *customerID, err)
	}
	if !customer.IsEnrolled() {
		log.Fatalf("Customer %s is %s, notifications are only sent for completed enrollments", *customerID, customer.PaymentStatus)
	}

	task, err := tasks.SendEnrollmentNotificationsTask.CreateTask(tasks.EnrollmentNotificationArgs{
		CustomerID: *customerID,
		Channels:   splitChannels(*channels),
	}, due)
	if err != nil {
		log.Fatalf("Invalid notification task: %v", err)
	}
	task.MaxAttempt = *maxAttempt
	if err := db.Create(task).Error; err != nil {
		log.Fatalf("Failed to create task: %v", err)
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}

	var channels []string
	for _, ch := range strings.Split(s, ",") {
		ch = strings.TrimSpace(ch)
		switch ch {
		case tasks.ChannelConfirmationEmail, tasks.ChannelWelcomeEmail, tasks.ChannelWhatsapp:
			channels = append(channels, ch)
		case "":
		default:
			log.Fatalf("Unknown channel %q", ch)
		}
	}
	return channels
}
