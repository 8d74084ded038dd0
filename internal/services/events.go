package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/code-Quester/SpeakSutra/internal/logger"
)

const (
	EventOrderCreated        = "order.created"
	EventEnrollmentCompleted = "enrollment.completed"
	EventEnrollmentFailed    = "enrollment.failed"
)

// EnrollmentEvent is published whenever a record is created or changes status.
type EnrollmentEvent struct {
	Type           string    `json:"type"`
	CustomerID     string    `json:"customer_id"`
	OrderID        string    `json:"order_id"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Gateway        string    `json:"gateway"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher delivers enrollment events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event EnrollmentEvent) error
	Close() error
}

// NewEventPublisher returns a Kafka publisher, or a no-op one when no brokers are set.
func NewEventPublisher(brokers []string, topic string) EventPublisher {
	if len(brokers) == 0 {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, event EnrollmentEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CustomerID),
		Value: msg,
		Time:  event.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, EnrollmentEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }

// AsyncPublisher sends events in the background and only logs failures. Close waits
// for in-flight sends before closing the underlying publisher.
type AsyncPublisher struct {
	next EventPublisher
	wg   sync.WaitGroup
}

func NewAsyncPublisher(next EventPublisher) *AsyncPublisher {
	if next == nil {
		next = NoopPublisher{}
	}
	return &AsyncPublisher{next: next}
}

// Send returns immediately. Events for a no-op publisher are dropped in place.
func (a *AsyncPublisher) Send(event EnrollmentEvent) {
	if _, noop := a.next.(NoopPublisher); noop {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.next.Publish(ctx, event); err != nil {
			logger.Log.WithError(err).WithField("event", event.Type).Warn("failed to publish enrollment event")
		}
	}()
}

func (a *AsyncPublisher) Close() error {
	a.wg.Wait()
	return a.next.Close()
}
