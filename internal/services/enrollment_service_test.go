package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

const testSecret = "demo-secret"

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

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

type fakeQueue struct {
	mu         sync.Mutex
	next       uint
	enqueued   []string
	dispatched []uint
}

func (q *fakeQueue) EnqueueEnrollmentNotifications(_ *gorm.DB, customerID string) (uint, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.enqueued = append(q.enqueued, customerID)
	return q.next, nil
}

func (q *fakeQueue) DispatchNow(taskID uint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatched = append(q.dispatched, taskID)
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

type failingGateway struct {
	*DemoGateway
}

func (failingGateway) CreateOrder(context.Context, OrderRequest) (*GatewayOrder, error) {
	return nil, errors.New("gateway unavailable")
}

type testEnv struct {
	db      *gorm.DB
	gateway *DemoGateway
	queue   *fakeQueue
	svc     *EnrollmentService
}

func newTestEnv(t *testing.T, cache *RedisCache) *testEnv {
	t.Helper()

	gw, err := NewDemoGateway(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{db: newTestDB(t), gateway: gw, queue: &fakeQueue{}}
	env.svc = env.newService(t, gw, cache)
	return env
}

func (e *testEnv) newService(t *testing.T, gw PaymentGateway, cache *RedisCache) *EnrollmentService {
	t.Helper()
	svc, err := NewEnrollmentService(e.db, gw, config.Course{
		Name:       "Public Speaking Mastery",
		PriceMinor: 149900,
		Currency:   "INR",
	}, cache, nil, e.queue, metrics.NewEnrollmentMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func (e *testEnv) createOrder(t *testing.T) *CreateOrderResult {
	t.Helper()
	res, err := e.svc.CreateOrder(context.Background(), CreateOrderInput{
		Name:        "Asha Rao",
		Email:       "asha@example.com",
		Whatsapp:    "9876543210",
		CountryCode: "+91",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return res
}

func (e *testEnv) customer(t *testing.T, id string) models.Customer {
	t.Helper()
	var c models.Customer
	if err := e.db.Where("id = ?", id).First(&c).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	return c
}

func webhookBody(event, orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q}}}}`, event, paymentID, orderID))
}

func (e *testEnv) webhook(t *testing.T, event, orderID, paymentID string) models.CallbackOutcome {
	t.Helper()
	body := webhookBody(event, orderID, paymentID)
	outcome, err := e.svc.HandleWebhook(context.Background(), body, SignBody(testSecret, body))
	if err != nil {
		t.Fatalf("HandleWebhook(%s): %v", event, err)
	}
	return outcome
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)

	if !strings.HasPrefix(res.LocalOrderID, "ORDER_") {
		t.Errorf("LocalOrderID = %q", res.LocalOrderID)
	}
	if !strings.HasPrefix(res.GatewayOrderID, "order_demo_") {
		t.Errorf("GatewayOrderID = %q", res.GatewayOrderID)
	}
	if res.Amount != 149900 || res.Currency != "INR" {
		t.Errorf("amount = %d %s", res.Amount, res.Currency)
	}

	c := env.customer(t, res.CustomerID)
	if c.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("status = %q; want pending", c.PaymentStatus)
	}
	if c.OrderID != res.LocalOrderID {
		t.Errorf("OrderID = %q; want %q", c.OrderID, res.LocalOrderID)
	}
	if c.GatewayOrderID == nil || *c.GatewayOrderID != res.GatewayOrderID {
		t.Errorf("GatewayOrderID = %v", c.GatewayOrderID)
	}
	if c.PaymentID != nil || c.PaidAt != nil {
		t.Error("payment fields must be empty on a new record")
	}
	if c.Name != "Asha Rao" || c.WhatsappNumber() != "+919876543210" {
		t.Errorf("contact = %q %q", c.Name, c.WhatsappNumber())
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	valid := CreateOrderInput{Name: "Asha Rao", Email: "asha@example.com", Whatsapp: "9876543210", CountryCode: "+91"}

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
		field  string
	}{
		{"missing name", func(in *CreateOrderInput) { in.Name = "" }, "name"},
		{"blank name", func(in *CreateOrderInput) { in.Name = "   " }, "name"},
		{"missing email", func(in *CreateOrderInput) { in.Email = "" }, "email"},
		{"malformed email", func(in *CreateOrderInput) { in.Email = "asha-at-example" }, "email"},
		{"missing whatsapp", func(in *CreateOrderInput) { in.Whatsapp = "" }, "whatsapp"},
		{"missing country code", func(in *CreateOrderInput) { in.CountryCode = "" }, "countryCode"},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)

			_, err := env.svc.CreateOrder(context.Background(), in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v; want *ValidationError", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("fields = %v; want %q", verr.Fields, tt.field)
			}
		})
	}

	var count int64
	env.db.Model(&models.Customer{}).Count(&count)
	if count != 0 {
		t.Errorf("records = %d; invalid input must not create records", count)
	}
}

func TestCreateOrder_GatewayFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	svc := env.newService(t, failingGateway{env.gateway}, nil)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Name: "Asha Rao", Email: "asha@example.com", Whatsapp: "9876543210", CountryCode: "+91",
	})
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %v; want *GatewayError", err)
	}

	var records []models.Customer
	env.db.Find(&records)
	if len(records) != 1 {
		t.Fatalf("records = %d; want 1", len(records))
	}
	if records[0].PaymentStatus != models.PaymentStatusPending || records[0].GatewayOrderID != nil {
		t.Errorf("record = %+v; want pending without gateway order", records[0])
	}
}

func TestVerifyPayment(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)
	sig := SignPayment(testSecret, res.GatewayOrderID, "pay_1")

	ok, err := env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{res.GatewayOrderID, "pay_1", sig})
	if err != nil || !ok {
		t.Fatalf("VerifyPayment = %v, %v; want true", ok, err)
	}

	c := env.customer(t, res.CustomerID)
	if c.PaymentStatus != models.PaymentStatusCompleted {
		t.Errorf("status = %q; want completed", c.PaymentStatus)
	}
	if c.PaymentID == nil || *c.PaymentID != "pay_1" || c.PaidAt == nil {
		t.Errorf("payment fields = %v %v", c.PaymentID, c.PaidAt)
	}
	if env.queue.count() != 1 || len(env.queue.dispatched) != 1 {
		t.Errorf("enqueued=%d dispatched=%d; want 1 each", env.queue.count(), len(env.queue.dispatched))
	}

	// A replayed callback is verified again but changes nothing.
	ok, err = env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{res.GatewayOrderID, "pay_1", sig})
	if err != nil || !ok {
		t.Fatalf("replay = %v, %v; want true", ok, err)
	}
	if env.queue.count() != 1 {
		t.Errorf("enqueued = %d after replay; want 1", env.queue.count())
	}
}

func TestVerifyPayment_SignatureMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)
	valid := SignPayment(testSecret, res.GatewayOrderID, "pay_1")

	for name, sig := range map[string]string{
		"single bit flipped": flipBit(valid, 10),
		"wrong secret":       SignPayment("other", res.GatewayOrderID, "pay_1"),
		"other payment":      SignPayment(testSecret, res.GatewayOrderID, "pay_2"),
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{res.GatewayOrderID, "pay_1", sig})
			if err != nil || ok {
				t.Fatalf("VerifyPayment = %v, %v; want false, nil", ok, err)
			}
		})
	}

	c := env.customer(t, res.CustomerID)
	if c.PaymentStatus != models.PaymentStatusPending || c.PaymentID != nil {
		t.Errorf("record changed on mismatch: %+v", c)
	}
	if env.queue.count() != 0 {
		t.Error("no notification on mismatch")
	}

	var rejected int64
	env.db.Model(&models.PaymentCallbackHistory{}).Where("outcome = ?", models.CallbackOutcomeRejected).Count(&rejected)
	if rejected != 3 {
		t.Errorf("rejected history rows = %d; want 3", rejected)
	}
}

func TestVerifyPayment_MissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{GatewayOrderID: "order_1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v; want *ValidationError", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("fields = %v; want paymentId and signature", verr.Fields)
	}
}

func TestVerifyPayment_UnknownOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	sig := SignPayment(testSecret, "order_unknown", "pay_1")

	ok, err := env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{"order_unknown", "pay_1", sig})
	if err != nil || !ok {
		t.Fatalf("VerifyPayment = %v, %v; want true", ok, err)
	}

	var h models.PaymentCallbackHistory
	env.db.Where("gateway_order_id = ?", "order_unknown").First(&h)
	if h.Outcome != models.CallbackOutcomeNotFound {
		t.Errorf("outcome = %q; want not_found", h.Outcome)
	}
}

func TestHandleWebhook_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)

	if got := env.webhook(t, "payment.captured", res.GatewayOrderID, "pay_1"); got != models.CallbackOutcomeApplied {
		t.Errorf("first delivery = %q; want applied", got)
	}
	if got := env.webhook(t, "payment.captured", res.GatewayOrderID, "pay_1"); got != models.CallbackOutcomeDuplicate {
		t.Errorf("second delivery = %q; want duplicate", got)
	}
	if got := env.webhook(t, "order.paid", res.GatewayOrderID, "pay_1"); got != models.CallbackOutcomeDuplicate {
		t.Errorf("order.paid = %q; want duplicate", got)
	}

	sig := SignPayment(testSecret, res.GatewayOrderID, "pay_1")
	if ok, err := env.svc.VerifyPayment(context.Background(), VerifyPaymentInput{res.GatewayOrderID, "pay_1", sig}); !ok || err != nil {
		t.Fatalf("VerifyPayment after webhook = %v, %v", ok, err)
	}

	if env.queue.count() != 1 {
		t.Errorf("notifications enqueued = %d; want exactly 1", env.queue.count())
	}
	if c := env.customer(t, res.CustomerID); c.PaymentStatus != models.PaymentStatusCompleted {
		t.Errorf("status = %q", c.PaymentStatus)
	}
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)
	body := webhookBody("payment.captured", res.GatewayOrderID, "pay_1")
	sig := SignBody(testSecret, body)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.svc.HandleWebhook(context.Background(), body, sig)
			if err != nil {
				t.Errorf("HandleWebhook: %v", err)
				return
			}
			if outcome == models.CallbackOutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 || env.queue.count() != 1 {
		t.Errorf("applied=%d enqueued=%d; want 1 each", applied, env.queue.count())
	}
}

func TestHandleWebhook_TerminalStates(t *testing.T) {
	env := newTestEnv(t, nil)

	completed := env.createOrder(t)
	env.webhook(t, "payment.captured", completed.GatewayOrderID, "pay_1")
	if got := env.webhook(t, "payment.failed", completed.GatewayOrderID, "pay_1"); got != models.CallbackOutcomeTerminal {
		t.Errorf("failed after completed = %q; want terminal", got)
	}
	if c := env.customer(t, completed.CustomerID); c.PaymentStatus != models.PaymentStatusCompleted {
		t.Errorf("completed record regressed to %q", c.PaymentStatus)
	}

	failed := env.createOrder(t)
	if got := env.webhook(t, "payment.failed", failed.GatewayOrderID, "pay_2"); got != models.CallbackOutcomeApplied {
		t.Errorf("payment.failed = %q; want applied", got)
	}
	if got := env.webhook(t, "payment.captured", failed.GatewayOrderID, "pay_3"); got != models.CallbackOutcomeTerminal {
		t.Errorf("captured after failed = %q; want terminal", got)
	}
	c := env.customer(t, failed.CustomerID)
	if c.PaymentStatus != models.PaymentStatusFailed || c.PaymentID != nil {
		t.Errorf("failed record changed: %+v", c)
	}

	if env.queue.count() != 1 {
		t.Errorf("enqueued = %d; only the first capture notifies", env.queue.count())
	}
}

func TestHandleWebhook_Rejected(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)
	body := webhookBody("payment.captured", res.GatewayOrderID, "pay_1")

	for name, sig := range map[string]string{
		"missing":   "",
		"tampered":  flipBit(SignBody(testSecret, body), 3),
		"other key": SignBody("other", body),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.HandleWebhook(context.Background(), body, sig)
			if !errors.Is(err, ErrSignatureMismatch) {
				t.Errorf("err = %v; want ErrSignatureMismatch", err)
			}
		})
	}

	if c := env.customer(t, res.CustomerID); c.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("status = %q; want pending", c.PaymentStatus)
	}
}

func TestHandleWebhook_UnknownEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.createOrder(t)

	if got := env.webhook(t, "refund.processed", res.GatewayOrderID, "pay_1"); got != models.CallbackOutcomeIgnored {
		t.Errorf("outcome = %q; want ignored", got)
	}
	if c := env.customer(t, res.CustomerID); c.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("status = %q; want pending", c.PaymentStatus)
	}
}

func TestCheckEnrollment(t *testing.T) {
	env := newTestEnv(t, newTestCache(t))
	ctx := context.Background()

	for _, id := range []string{"", "   ", "not-a-uuid", uuid.NewString()} {
		status, err := env.svc.CheckEnrollment(ctx, id)
		if err != nil || status.Enrolled {
			t.Errorf("CheckEnrollment(%q) = %+v, %v; want not enrolled", id, status, err)
		}
	}

	res := env.createOrder(t)
	status, err := env.svc.CheckEnrollment(ctx, res.CustomerID)
	if err != nil || status.Enrolled {
		t.Fatalf("pending record = %+v, %v; want not enrolled", status, err)
	}

	env.webhook(t, "payment.captured", res.GatewayOrderID, "pay_1")

	// The earlier negative answer must not have been cached.
	status, err = env.svc.CheckEnrollment(ctx, res.CustomerID)
	if err != nil || !status.Enrolled {
		t.Fatalf("completed record = %+v, %v; want enrolled", status, err)
	}
	if status.CustomerName != "Asha Rao" || status.OrderID != res.LocalOrderID || status.GatewayOrderID != res.GatewayOrderID {
		t.Errorf("status = %+v", status)
	}

	cached, ok := env.svc.cache.CachedEnrollment(ctx, res.CustomerID)
	if !ok || !cached.Enrolled {
		t.Errorf("positive answer not cached: %+v %v", cached, ok)
	}
}

func TestListCustomers(t *testing.T) {
	env := newTestEnv(t, nil)

	a := env.createOrder(t)
	b := env.createOrder(t)
	env.createOrder(t)
	env.webhook(t, "payment.captured", a.GatewayOrderID, "pay_a")
	env.webhook(t, "payment.failed", b.GatewayOrderID, "pay_b")

	list, err := env.svc.ListCustomers(context.Background(), "")
	if err != nil {
		t.Fatalf("ListCustomers: %v", err)
	}
	if list.Total != 3 || list.Completed != 1 || list.Failed != 1 || list.Pending != 1 {
		t.Errorf("counts = %d/%d/%d/%d", list.Total, list.Completed, list.Pending, list.Failed)
	}
	if len(list.Customers) != 3 {
		t.Errorf("customers = %d; want 3", len(list.Customers))
	}

	completed, err := env.svc.ListCustomers(context.Background(), models.PaymentStatusCompleted)
	if err != nil {
		t.Fatalf("ListCustomers(completed): %v", err)
	}
	if len(completed.Customers) != 1 || completed.Customers[0].ID != a.CustomerID {
		t.Errorf("filtered = %+v", completed.Customers)
	}
	if completed.Total != 3 {
		t.Errorf("counts must cover all records, total = %d", completed.Total)
	}
}

// A learner enrolls, pays, and unlocks the course view.
func TestEnrollmentFlow_EndToEnd(t *testing.T) {
	cache := newTestCache(t)
	env := newTestEnv(t, cache)
	sessions := NewSessionManager("session-secret", 24*time.Hour, env.svc, cache)
	ctx := context.Background()

	res := env.createOrder(t)

	paymentID, sig := env.gateway.SimulatePayment(res.GatewayOrderID)
	ok, err := env.svc.VerifyPayment(ctx, VerifyPaymentInput{res.GatewayOrderID, paymentID, sig})
	if err != nil || !ok {
		t.Fatalf("VerifyPayment = %v, %v", ok, err)
	}

	// The webhook for the same payment arrives afterwards.
	if got := env.webhook(t, "payment.captured", res.GatewayOrderID, paymentID); got != models.CallbackOutcomeDuplicate {
		t.Errorf("late webhook = %q; want duplicate", got)
	}

	token, _, err := sessions.Unlock(ctx, res.CustomerID, res.LocalOrderID)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if state, claims := sessions.State(ctx, token); state != GateUnlocked || claims.CustomerID != res.CustomerID {
		t.Errorf("State = %q %+v", state, claims)
	}
	if env.queue.count() != 1 {
		t.Errorf("notifications = %d; want 1", env.queue.count())
	}
}

// A learner abandons checkout: the record stays pending and the gate stays locked.
func TestEnrollmentFlow_Abandoned(t *testing.T) {
	env := newTestEnv(t, nil)
	sessions := NewSessionManager("session-secret", 24*time.Hour, env.svc, nil)
	ctx := context.Background()

	res := env.createOrder(t)

	status, err := env.svc.CheckEnrollment(ctx, res.CustomerID)
	if err != nil || status.Enrolled {
		t.Fatalf("CheckEnrollment = %+v, %v", status, err)
	}
	if _, _, err := sessions.Unlock(ctx, res.CustomerID, res.LocalOrderID); !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("Unlock err = %v; want ErrNotEnrolled", err)
	}
	if env.queue.count() != 0 {
		t.Error("no notification for an abandoned order")
	}
}
