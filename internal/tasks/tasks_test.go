package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeEmail struct {
	mu            sync.Mutex
	configured    bool
	welcomeErrs   int
	afterWelcome  func()
	confirmations []string
	welcomes      []string
	summaries     []services.SummaryReport
}

func (f *fakeEmail) Configured() bool { return f.configured }

func (f *fakeEmail) SendPaymentConfirmation(c *models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, c.Email)
	return nil
}

func (f *fakeEmail) SendWelcome(c *models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.welcomeErrs > 0 {
		f.welcomeErrs--
		return errors.New("smtp: 421 try again later")
	}
	f.welcomes = append(f.welcomes, c.Email)
	if f.afterWelcome != nil {
		f.afterWelcome()
	}
	return nil
}

func (f *fakeEmail) SendSummary(to string, report services.SummaryReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, report)
	return nil
}

type fakeWhatsapp struct {
	mu    sync.Mutex
	chats []string
}

func (f *fakeWhatsapp) Configured() bool { return true }

func (f *fakeWhatsapp) SendMessage(_ context.Context, chatID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	return nil
}

type fixture struct {
	db       *gorm.DB
	email    *fakeEmail
	whatsapp *fakeWhatsapp
	runner   *Runner
}

func newFixture(t *testing.T) *fixture {
	db := newTestDB(t)
	email := &fakeEmail{configured: true}
	wa := &fakeWhatsapp{}

	registry := NewRegistry()
	DefineTasks(registry)

	env := &Env{
		DB:            db,
		Email:         email,
		Whatsapp:      wa,
		Course:        config.Course{Name: "Public Speaking", Currency: "INR"},
		OperatorEmail: "ops@example.com",
		Metrics:       metrics.NewEnrollmentMetrics(prometheus.NewRegistry()),
	}
	return &fixture{db: db, email: email, whatsapp: wa, runner: NewRunner(env, registry)}
}

func (f *fixture) customer(t *testing.T, status models.PaymentStatus) *models.Customer {
	t.Helper()
	c := &models.Customer{
		Name:           "Asha Rao",
		Email:          "asha@example.com",
		Whatsapp:       "9876543210",
		CountryCode:    "+91",
		OrderID:        "ORDER_" + uuid.NewString(),
		PaymentGateway: models.PaymentGatewayDemo,
		PaymentStatus:  status,
		Amount:         149900,
		Currency:       "INR",
	}
	if err := f.db.Create(c).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func (f *fixture) enqueue(t *testing.T, customerID string) uint {
	t.Helper()
	id, err := f.runner.EnqueueEnrollmentNotifications(f.db, customerID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func (f *fixture) task(t *testing.T, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	if err := f.db.First(&task, id).Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	return task
}

func TestSendEnrollmentNotifications_AllChannels(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, models.PaymentStatusCompleted)
	id := f.enqueue(t, c.ID)

	if err := f.runner.RunByID(context.Background(), id); err != nil {
		t.Fatalf("RunByID: %v", err)
	}

	if len(f.email.confirmations) != 1 || len(f.email.welcomes) != 1 {
		t.Errorf("confirmations=%d welcomes=%d; want 1 each", len(f.email.confirmations), len(f.email.welcomes))
	}
	if len(f.whatsapp.chats) != 1 || f.whatsapp.chats[0] != "+919876543210" {
		t.Errorf("whatsapp chats = %v", f.whatsapp.chats)
	}
	if got := f.task(t, id).Status; got != models.ScheduledTaskStatusDone {
		t.Errorf("task status = %q; want done", got)
	}

	var history []models.ScheduledTaskHistory
	f.db.Where("scheduled_task_id = ?", id).Find(&history)
	if len(history) != 1 || history[0].Status != "success" {
		t.Errorf("history = %+v", history)
	}
}

func TestExecute_RunsOnce(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, models.PaymentStatusCompleted)
	id := f.enqueue(t, c.ID)
	task := f.task(t, id)

	var wg sync.WaitGroup
	claims := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, _ := f.runner.Execute(context.Background(), task)
			claims <- claimed
		}()
	}
	wg.Wait()
	close(claims)

	n := 0
	for claimed := range claims {
		if claimed {
			n++
		}
	}
	if n != 1 {
		t.Errorf("task claimed %d times; want 1", n)
	}
	if len(f.email.confirmations) != 1 {
		t.Errorf("confirmations = %d; want 1", len(f.email.confirmations))
	}
}

func TestDispatchNow(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, models.PaymentStatusCompleted)
	id := f.enqueue(t, c.ID)

	f.runner.DispatchNow(id)
	f.runner.Wait()

	if len(f.email.confirmations) != 1 {
		t.Errorf("confirmations = %d; want 1", len(f.email.confirmations))
	}
	if ran := f.runner.ProcessDue(context.Background()); ran != 0 {
		t.Errorf("worker ran %d tasks after dispatch; want 0", ran)
	}
}

func TestSendEnrollmentNotifications_PendingSkipped(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, models.PaymentStatusPending)
	id := f.enqueue(t, c.ID)

	if err := f.runner.RunByID(context.Background(), id); err != nil {
		t.Fatalf("RunByID: %v", err)
	}
	if len(f.email.confirmations)+len(f.email.welcomes)+len(f.whatsapp.chats) != 0 {
		t.Error("no notification may be sent for a pending record")
	}
}

func TestSendEnrollmentNotifications_RetriesFailedChannel(t *testing.T) {
	f := newFixture(t)
	f.email.welcomeErrs = 1
	c := f.customer(t, models.PaymentStatusCompleted)
	id := f.enqueue(t, c.ID)

	if err := f.runner.RunByID(context.Background(), id); err != nil {
		t.Fatalf("RunByID: %v", err)
	}

	var retries []models.ScheduledTask
	f.db.Where("id <> ? AND task_name = ?", id, SendEnrollmentNotificationsTask.TaskID()).Find(&retries)
	if len(retries) != 1 {
		t.Fatalf("retry tasks = %d; want 1", len(retries))
	}

	args, err := decodeArgs[EnrollmentNotificationArgs](retries[0].Arguments)
	if err != nil {
		t.Fatalf("decode retry args: %v", err)
	}
	if args.AttemptCount != 2 || len(args.Channels) != 1 || args.Channels[0] != ChannelWelcomeEmail {
		t.Errorf("retry args = %+v", args)
	}
	if !retries[0].Due.After(time.Now().Add(4 * time.Minute)) {
		t.Errorf("retry due %v; want about 5 minutes from now", retries[0].Due)
	}

	// The retry only touches the failed channel.
	if err := f.runner.RunByID(context.Background(), retries[0].ID); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if len(f.email.confirmations) != 1 || len(f.email.welcomes) != 1 {
		t.Errorf("confirmations=%d welcomes=%d; want 1 each", len(f.email.confirmations), len(f.email.welcomes))
	}
}

func TestSendEnrollmentNotifications_MaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.email.welcomeErrs = 10
	c := f.customer(t, models.PaymentStatusCompleted)

	task, err := SendEnrollmentNotificationsTask.CreateTask(EnrollmentNotificationArgs{
		CustomerID:   c.ID,
		Channels:     []string{ChannelWelcomeEmail},
		AttemptCount: 3,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	f.db.Create(task)

	if err := f.runner.RunByID(context.Background(), task.ID); err == nil {
		t.Fatal("expected error after the last attempt")
	}
	if got := f.task(t, task.ID).Status; got != models.ScheduledTaskStatusFailure {
		t.Errorf("status = %q; want failure", got)
	}

	var count int64
	f.db.Model(&models.ScheduledTask{}).Count(&count)
	if count != 1 {
		t.Errorf("tasks = %d; no retry expected after max attempts", count)
	}
}

func TestEnrollmentSummary(t *testing.T) {
	f := newFixture(t)
	f.customer(t, models.PaymentStatusCompleted)
	f.customer(t, models.PaymentStatusCompleted)
	f.customer(t, models.PaymentStatusPending)

	due := time.Now().Add(-time.Minute).Truncate(time.Second)
	task, err := EnrollmentSummaryTask.CreateTask(due, "")
	if err != nil {
		t.Fatal(err)
	}
	f.db.Create(task)

	if ran := f.runner.ProcessDue(context.Background()); ran != 1 {
		t.Fatalf("ran = %d; want 1", ran)
	}

	if len(f.email.summaries) != 1 {
		t.Fatalf("summaries = %d; want 1", len(f.email.summaries))
	}
	r := f.email.summaries[0]
	if r.Completed != 2 || r.Pending != 1 || r.Total != 3 || r.Revenue != "₹2,998" {
		t.Errorf("report = %+v", r)
	}

	stored := f.task(t, task.ID)
	if stored.Status != models.ScheduledTaskStatusActive {
		t.Errorf("recurring task status = %q; want active", stored.Status)
	}
	if !stored.Due.After(time.Now()) {
		t.Errorf("next due %v must be in the future", stored.Due)
	}
}

func TestEnrollmentSummary_InvalidRule(t *testing.T) {
	if _, err := EnrollmentSummaryTask.CreateTask(time.Now(), "FREQ=SOMETIMES"); err == nil {
		t.Error("expected error for invalid rule")
	}
}

func TestExecute_HandlerNotFound(t *testing.T) {
	f := newFixture(t)
	task, _ := BuildScheduledTask("does_not_exist", map[string]interface{}{}, time.Now(), nil, models.ScheduledTaskTypeOneTime, 1)
	f.db.Create(task)

	claimed, err := f.runner.Execute(context.Background(), *task)
	if !claimed || err == nil {
		t.Fatalf("Execute = %v, %v; want claimed with error", claimed, err)
	}

	var history models.ScheduledTaskHistory
	f.db.Where("scheduled_task_id = ?", task.ID).First(&history)
	if history.Status != "handler_not_found" {
		t.Errorf("history status = %q", history.Status)
	}
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t)
	task, _ := BuildScheduledTask(EnrollmentSummaryTask.TaskID(), map[string]interface{}{}, time.Now(), nil, models.ScheduledTaskTypeOneTime, 1)
	task.Status = models.ScheduledTaskStatusRunning
	f.db.Create(task)

	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := f.runner.RecoverStale(context.Background(), 15*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("RecoverStale = %d, %v; want 1", n, err)
	}
	if got := f.task(t, task.ID).Status; got != models.ScheduledTaskStatusActive {
		t.Errorf("status = %q; want active", got)
	}
}

func TestExecute_CancelledAfterDelivery(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, models.PaymentStatusCompleted)
	id := f.enqueue(t, c.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.email.afterWelcome = cancel

	if _, err := f.runner.Execute(ctx, f.task(t, id)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := f.task(t, id).Status; got != models.ScheduledTaskStatusDone {
		t.Fatalf("status = %q; want done", got)
	}

	var history int64
	f.db.Model(&models.ScheduledTaskHistory{}).Where("scheduled_task_id = ?", id).Count(&history)
	if history != 1 {
		t.Errorf("history rows = %d; want 1", history)
	}

	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n, _ := f.runner.RecoverStale(context.Background(), 15*time.Minute); n != 0 {
		t.Errorf("recovered %d tasks; want 0", n)
	}
	f.runner.ProcessDue(context.Background())

	if len(f.email.confirmations) != 1 || len(f.email.welcomes) != 1 {
		t.Errorf("confirmations=%d welcomes=%d; want 1 each", len(f.email.confirmations), len(f.email.welcomes))
	}
}
