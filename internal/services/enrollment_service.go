package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

// NotificationQueue persists a notification task inside the caller's transaction and
// dispatches it once that transaction has committed.
type NotificationQueue interface {
	EnqueueEnrollmentNotifications(tx *gorm.DB, customerID string) (uint, error)
	DispatchNow(taskID uint)
}

type CreateOrderInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email,max=255"`
	Whatsapp    string `json:"whatsapp" validate:"required,max=30"`
	CountryCode string `json:"countryCode" validate:"required,max=10"`
}

type CreateOrderResult struct {
	GatewayOrderID string
	LocalOrderID   string
	CustomerID     string
	Amount         int64
	Currency       string
	KeyID          string
	Token          string
	RedirectURL    string
}

type VerifyPaymentInput struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// EnrollmentStatus is the answer of CheckEnrollment.
type EnrollmentStatus struct {
	Enrolled       bool   `json:"enrolled"`
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
}

// CustomerList is the operator view of all enrollment records.
type CustomerList struct {
	Customers []models.Customer
	Total     int64
	Completed int64
	Pending   int64
	Failed    int64
}

// EnrollmentService owns the enrollment record lifecycle: order creation, payment
// verification from both the client callback and the webhook, and enrollment lookups.
type EnrollmentService struct {
	db       *gorm.DB
	gateway  PaymentGateway
	cache    *RedisCache
	events   *AsyncPublisher
	queue    NotificationQueue
	metrics  *metrics.EnrollmentMetrics
	course   config.Course
	validate *validator.Validate
	orderRef func() string
	now      func() time.Time
}

// NewEnrollmentService wires the service. cache, events, queue and m may be nil.
func NewEnrollmentService(
	db *gorm.DB,
	gateway PaymentGateway,
	course config.Course,
	cache *RedisCache,
	events EventPublisher,
	queue NotificationQueue,
	m *metrics.EnrollmentMetrics,
) (*EnrollmentService, error) {
	gen, err := nanoid.Standard(16)
	if err != nil {
		return nil, fmt.Errorf("init order reference generator: %w", err)
	}
	if m == nil {
		m = metrics.NewEnrollmentMetrics(prometheus.NewRegistry())
	}

	return &EnrollmentService{
		db:       db,
		gateway:  gateway,
		cache:    cache,
		events:   NewAsyncPublisher(events),
		queue:    queue,
		metrics:  m,
		course:   course,
		validate: newValidator(),
		orderRef: func() string { return "ORDER_" + gen() },
		now:      time.Now,
	}, nil
}

// Close waits for pending event publishes and closes the event publisher.
func (s *EnrollmentService) Close() error {
	return s.events.Close()
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

func toValidationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "email":
			fields[fe.Field()] = "must be a valid email address"
		default:
			fields[fe.Field()] = "is invalid"
		}
	}
	return &ValidationError{Fields: fields}
}

// Gateway returns the configured payment provider.
func (s *EnrollmentService) Gateway() PaymentGateway {
	return s.gateway
}

// CreateOrder stores a pending enrollment record and opens a gateway order for the fixed
// course price. The record exists before the gateway is called; if the gateway fails it
// stays pending without a gateway order id.
func (s *EnrollmentService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Whatsapp = strings.TrimSpace(in.Whatsapp)
	in.CountryCode = strings.TrimSpace(in.CountryCode)

	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	gatewayName := string(s.gateway.Name())
	customer := models.Customer{
		Name:           in.Name,
		Email:          in.Email,
		Whatsapp:       in.Whatsapp,
		CountryCode:    in.CountryCode,
		OrderID:        s.orderRef(),
		PaymentGateway: s.gateway.Name(),
		PaymentStatus:  models.PaymentStatusPending,
		Amount:         s.course.PriceMinor,
		Currency:       s.course.Currency,
	}
	if err := s.db.WithContext(ctx).Create(&customer).Error; err != nil {
		s.metrics.OrderCreationErrorsTotal.WithLabelValues(gatewayName, "record").Inc()
		return nil, fmt.Errorf("create enrollment record: %w", err)
	}

	log := logger.Log.WithFields(logrus.Fields{
		"customer_id": customer.ID,
		"order_id":    customer.OrderID,
		"gateway":     gatewayName,
	})

	start := time.Now()
	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		Receipt:    customer.OrderID,
		Amount:     customer.Amount,
		Currency:   customer.Currency,
		CustomerID: customer.ID,
		Name:       customer.Name,
		Email:      customer.Email,
		Phone:      customer.WhatsappNumber(),
		Item:       s.course.Name,
	})
	s.metrics.GatewayRequestDuration.WithLabelValues(gatewayName, "create_order").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.OrderCreationErrorsTotal.WithLabelValues(gatewayName, "gateway").Inc()
		log.WithError(err).Error("gateway order creation failed")
		return nil, &GatewayError{Provider: gatewayName, Op: "create order", Err: err}
	}

	res := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ? AND gateway_order_id IS NULL", customer.ID).
		Update("gateway_order_id", order.ID)
	if res.Error != nil {
		s.metrics.OrderCreationErrorsTotal.WithLabelValues(gatewayName, "record").Inc()
		return nil, fmt.Errorf("store gateway order id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn("gateway order id already set, keeping the stored value")
	}

	s.metrics.OrdersCreatedTotal.WithLabelValues(gatewayName, customer.Currency).Inc()
	log.WithField("gateway_order_id", order.ID).Info("enrollment order created")

	s.events.Send(EnrollmentEvent{
		Type:           EventOrderCreated,
		CustomerID:     customer.ID,
		OrderID:        customer.OrderID,
		GatewayOrderID: order.ID,
		Gateway:        gatewayName,
		Amount:         customer.Amount,
		Currency:       customer.Currency,
		OccurredAt:     s.now(),
	})

	return &CreateOrderResult{
		GatewayOrderID: order.ID,
		LocalOrderID:   customer.OrderID,
		CustomerID:     customer.ID,
		Amount:         customer.Amount,
		Currency:       customer.Currency,
		KeyID:          s.gateway.PublicKey(),
		Token:          order.Token,
		RedirectURL:    order.RedirectURL,
	}, nil
}

// VerifyPayment authenticates a client-reported payment and, on success, marks the
// record completed. A valid signature is reported as verified even when no record
// matches or the record is already terminal; those cases are only logged.
func (s *EnrollmentService) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (bool, error) {
	fields := map[string]string{}
	if strings.TrimSpace(in.GatewayOrderID) == "" {
		fields["gatewayOrderId"] = "is required"
	}
	if strings.TrimSpace(in.PaymentID) == "" {
		fields["paymentId"] = "is required"
	}
	if strings.TrimSpace(in.Signature) == "" && s.gateway.Name() != models.PaymentGatewayMidtrans {
		fields["signature"] = "is required"
	}
	if len(fields) > 0 {
		return false, &ValidationError{Fields: fields}
	}

	gatewayName := string(s.gateway.Name())
	log := logger.Log.WithFields(logrus.Fields{
		"gateway_order_id": in.GatewayOrderID,
		"payment_id":       in.PaymentID,
	})

	start := time.Now()
	ok, err := s.gateway.ConfirmPayment(ctx, in.GatewayOrderID, in.PaymentID, in.Signature)
	s.metrics.GatewayRequestDuration.WithLabelValues(gatewayName, "confirm_payment").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.PaymentVerificationsTotal.WithLabelValues(gatewayName, "error").Inc()
		return false, &GatewayError{Provider: gatewayName, Op: "confirm payment", Err: err}
	}

	history := models.PaymentCallbackHistory{
		PaymentGateway: s.gateway.Name(),
		Source:         models.CallbackSourceClient,
		EventType:      "payment.verify",
		GatewayOrderID: in.GatewayOrderID,
		PaymentID:      in.PaymentID,
		SignatureValid: ok,
	}

	if !ok {
		s.metrics.PaymentVerificationsTotal.WithLabelValues(gatewayName, "mismatch").Inc()
		log.Warn("payment signature mismatch")
		history.Outcome = models.CallbackOutcomeRejected
		s.recordCallback(ctx, history)
		return false, nil
	}

	outcome, err := s.transition(ctx, in.GatewayOrderID, in.PaymentID, models.PaymentStatusCompleted, models.CallbackSourceClient)
	if err != nil {
		s.metrics.PaymentVerificationsTotal.WithLabelValues(gatewayName, "error").Inc()
		return false, err
	}

	history.Outcome = outcome
	s.recordCallback(ctx, history)
	s.metrics.PaymentVerificationsTotal.WithLabelValues(gatewayName, "verified").Inc()
	return true, nil
}

// HandleWebhook authenticates a raw provider notification and applies it. Only a bad
// signature or a persistence failure returns an error; unknown events and replays are
// accepted.
func (s *EnrollmentService) HandleWebhook(ctx context.Context, body []byte, signature string) (models.CallbackOutcome, error) {
	gatewayName := string(s.gateway.Name())

	event, err := s.gateway.ParseWebhook(body, signature)
	if err != nil {
		if errors.Is(err, ErrSignatureMismatch) {
			logger.Log.Warn("webhook signature mismatch")
			s.metrics.WebhookEventsTotal.WithLabelValues(gatewayName, "unknown", string(models.CallbackOutcomeRejected)).Inc()
			s.recordCallback(ctx, models.PaymentCallbackHistory{
				PaymentGateway: s.gateway.Name(),
				Source:         models.CallbackSourceWebhook,
				Outcome:        models.CallbackOutcomeRejected,
			})
			return models.CallbackOutcomeRejected, err
		}
		return models.CallbackOutcomeRejected, &ValidationError{Fields: map[string]string{"body": err.Error()}}
	}

	log := logger.Log.WithFields(logrus.Fields{
		"event":            event.Type,
		"gateway_order_id": event.GatewayOrderID,
		"payment_id":       event.PaymentID,
	})

	outcome := models.CallbackOutcomeIgnored
	switch {
	case event.Kind == WebhookIgnored:
		log.Debug("webhook event ignored")
	case event.GatewayOrderID == "":
		log.Warn("webhook event without order id")
	case event.Kind == WebhookCaptured:
		outcome, err = s.transition(ctx, event.GatewayOrderID, event.PaymentID, models.PaymentStatusCompleted, models.CallbackSourceWebhook)
	case event.Kind == WebhookFailed:
		outcome, err = s.transition(ctx, event.GatewayOrderID, event.PaymentID, models.PaymentStatusFailed, models.CallbackSourceWebhook)
	}
	if err != nil {
		return outcome, err
	}

	history := models.PaymentCallbackHistory{
		PaymentGateway: s.gateway.Name(),
		Source:         models.CallbackSourceWebhook,
		EventType:      event.Type,
		GatewayOrderID: event.GatewayOrderID,
		PaymentID:      event.PaymentID,
		SignatureValid: true,
		Outcome:        outcome,
	}
	if json.Valid(body) {
		history.Metadata = datatypes.JSON(body)
	}
	s.recordCallback(ctx, history)

	s.metrics.WebhookEventsTotal.WithLabelValues(gatewayName, event.Type, string(outcome)).Inc()
	return outcome, nil
}

// transition moves the record identified by gatewayOrderID from pending to target. The
// conditional UPDATE is the single decision point: only the caller whose update changed
// a row enqueues notifications, inside the same transaction.
func (s *EnrollmentService) transition(
	ctx context.Context,
	gatewayOrderID, paymentID string,
	target models.PaymentStatus,
	source models.CallbackSource,
) (models.CallbackOutcome, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"gateway_order_id": gatewayOrderID,
		"payment_id":       paymentID,
		"target":           target,
		"source":           source,
	})

	var (
		customer models.Customer
		outcome  models.CallbackOutcome
		taskID   uint
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"payment_status": target}
		if target == models.PaymentStatusCompleted {
			updates["paid_at"] = s.now()
			if paymentID != "" {
				updates["payment_id"] = paymentID
			}
		}

		res := tx.Model(&models.Customer{}).
			Where("gateway_order_id = ? AND payment_status = ?", gatewayOrderID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Where("gateway_order_id = ?", gatewayOrderID).First(&customer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = models.CallbackOutcomeNotFound
				return nil
			}
			return err
		}

		if res.RowsAffected == 0 {
			switch {
			case customer.PaymentStatus == target:
				outcome = models.CallbackOutcomeDuplicate
			case customer.PaymentStatus.IsTerminal():
				outcome = models.CallbackOutcomeTerminal
			default:
				return fmt.Errorf("record %s still %s after update", customer.ID, customer.PaymentStatus)
			}
			return nil
		}

		outcome = models.CallbackOutcomeApplied
		if target == models.PaymentStatusCompleted && s.queue != nil {
			id, err := s.queue.EnqueueEnrollmentNotifications(tx, customer.ID)
			if err != nil {
				return fmt.Errorf("enqueue notifications: %w", err)
			}
			taskID = id
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("enrollment status transition failed")
		return outcome, fmt.Errorf("update enrollment status: %w", err)
	}

	switch outcome {
	case models.CallbackOutcomeNotFound:
		log.Warn("no enrollment record for gateway order")
	case models.CallbackOutcomeDuplicate:
		log.Info("enrollment status already applied")
	case models.CallbackOutcomeTerminal:
		log.WithField("current", customer.PaymentStatus).Warn("refusing to change terminal enrollment status")
	case models.CallbackOutcomeApplied:
		log.WithField("customer_id", customer.ID).Info("enrollment status updated")
		s.metrics.StatusTransitionsTotal.WithLabelValues(string(target), string(source)).Inc()

		if taskID != 0 {
			s.queue.DispatchNow(taskID)
		}

		eventType := EventEnrollmentCompleted
		if target == models.PaymentStatusFailed {
			eventType = EventEnrollmentFailed
		}
		s.events.Send(EnrollmentEvent{
			Type:           eventType,
			CustomerID:     customer.ID,
			OrderID:        customer.OrderID,
			GatewayOrderID: gatewayOrderID,
			PaymentID:      paymentID,
			Gateway:        string(customer.PaymentGateway),
			Amount:         customer.Amount,
			Currency:       customer.Currency,
			OccurredAt:     s.now(),
		})
	}
	return outcome, nil
}

func (s *EnrollmentService) recordCallback(ctx context.Context, h models.PaymentCallbackHistory) {
	if err := s.db.WithContext(ctx).Create(&h).Error; err != nil {
		logger.Log.WithError(err).Warn("failed to record payment callback history")
	}
}

// CheckEnrollment reports whether customerID has a completed enrollment. Missing,
// malformed and unknown ids are a negative answer, not an error.
func (s *EnrollmentService) CheckEnrollment(ctx context.Context, customerID string) (*EnrollmentStatus, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return &EnrollmentStatus{}, nil
	}
	if _, err := uuid.Parse(customerID); err != nil {
		return &EnrollmentStatus{}, nil
	}

	if cached, ok := s.cache.CachedEnrollment(ctx, customerID); ok {
		return cached, nil
	}

	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &EnrollmentStatus{}, nil
		}
		return nil, fmt.Errorf("lookup enrollment: %w", err)
	}

	status := &EnrollmentStatus{
		Enrolled:     customer.IsEnrolled(),
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		OrderID:      customer.OrderID,
	}
	if customer.GatewayOrderID != nil {
		status.GatewayOrderID = *customer.GatewayOrderID
	}

	s.cache.CacheEnrollment(ctx, customerID, status)
	return status, nil
}

// GetCustomer loads one enrollment record by customer id. Unknown and malformed ids
// return ErrNotFound.
func (s *EnrollmentService) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	if _, err := uuid.Parse(customerID); err != nil {
		return nil, ErrNotFound
	}
	var customer models.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", customerID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// ListCustomers returns records newest first, optionally filtered by status, with
// counts over all records.
func (s *EnrollmentService) ListCustomers(ctx context.Context, status models.PaymentStatus) (*CustomerList, error) {
	list := &CustomerList{}

	query := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("payment_status = ?", status)
	}
	if err := query.Find(&list.Customers).Error; err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	list.Completed = counts[models.PaymentStatusCompleted]
	list.Pending = counts[models.PaymentStatusPending]
	list.Failed = counts[models.PaymentStatusFailed]
	list.Total = list.Completed + list.Pending + list.Failed
	return list, nil
}

// CountByStatus groups all records by payment status.
func (s *EnrollmentService) CountByStatus(ctx context.Context) (map[models.PaymentStatus]int64, error) {
	var rows []struct {
		PaymentStatus models.PaymentStatus
		Count         int64
	}
	err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Select("payment_status, COUNT(*) AS count").
		Group("payment_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}

	counts := make(map[models.PaymentStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.PaymentStatus] = r.Count
	}
	return counts, nil
}
