package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EnrollmentMetrics groups the counters exported on /metrics.
type EnrollmentMetrics struct {
	OrdersCreatedTotal       *prometheus.CounterVec
	OrderCreationErrorsTotal *prometheus.CounterVec
	GatewayRequestDuration   *prometheus.HistogramVec

	// result: verified, mismatch, error
	PaymentVerificationsTotal *prometheus.CounterVec
	// outcome: applied, duplicate, ignored, rejected, not_found, terminal
	WebhookEventsTotal *prometheus.CounterVec

	StatusTransitionsTotal *prometheus.CounterVec

	NotificationsTotal *prometheus.CounterVec
}

// NewEnrollmentMetrics registers the metrics on reg. Passing nil uses the default registerer.
func NewEnrollmentMetrics(reg prometheus.Registerer) *EnrollmentMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &EnrollmentMetrics{
		OrdersCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_orders_created_total",
				Help: "Gateway orders created for course enrollment",
			},
			[]string{"gateway", "currency"},
		),
		OrderCreationErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_order_errors_total",
				Help: "Order creation failures by stage",
			},
			[]string{"gateway", "stage"},
		),
		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enrollment_gateway_request_duration_seconds",
				Help:    "Latency of outbound payment gateway calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
			},
			[]string{"gateway", "operation"},
		),
		PaymentVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_payment_verifications_total",
				Help: "Client callback payment verifications by result",
			},
			[]string{"gateway", "result"},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_webhook_events_total",
				Help: "Webhook deliveries by event type and outcome",
			},
			[]string{"gateway", "event", "outcome"},
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_status_transitions_total",
				Help: "Applied enrollment status transitions",
			},
			[]string{"to", "source"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrollment_notifications_total",
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),
	}
}
