package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/models"
)

// OrderRequest is what the verifier asks a gateway to create. Amount is in minor units.
type OrderRequest struct {
	Receipt    string
	Amount     int64
	Currency   string
	CustomerID string
	Name       string
	Email      string
	Phone      string
	Item       string
}

// GatewayOrder is the provider's answer to an order request.
type GatewayOrder struct {
	ID          string
	Amount      int64
	Currency    string
	Token       string
	RedirectURL string
}

// WebhookKind is the normalized meaning of a provider event.
type WebhookKind string

const (
	WebhookCaptured WebhookKind = "captured"
	WebhookFailed   WebhookKind = "failed"
	WebhookIgnored  WebhookKind = "ignored"
)

// WebhookEvent is an authenticated provider notification.
type WebhookEvent struct {
	Type           string
	Kind           WebhookKind
	GatewayOrderID string
	PaymentID      string
}

// PaymentGateway is implemented by every payment provider. ConfirmPayment answers the
// client callback path; ParseWebhook authenticates the raw body before decoding it and
// returns ErrSignatureMismatch when it cannot.
type PaymentGateway interface {
	Name() models.PaymentGateway
	PublicKey() string
	SignatureHeader() string
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
	ConfirmPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (bool, error)
	ParseWebhook(body []byte, signature string) (*WebhookEvent, error)
}

// NewGateway builds the provider selected by configuration.
func NewGateway(cfg config.Gateway) (PaymentGateway, error) {
	switch cfg.Provider {
	case config.ProviderRazorpay:
		return NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.WebhookSecret()), nil
	case config.ProviderMidtrans:
		return NewMidtransService(cfg.MidtransServerKey, cfg.MidtransClientKey, cfg.MidtransIsProduction), nil
	case config.ProviderDemo:
		return NewDemoGateway(cfg.DemoSecret)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// razorpayWebhook is the subset of the Razorpay webhook envelope we act on.
type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// parseRazorpayWebhook verifies hex(HMAC-SHA256(secret, body)) and decodes the envelope.
// Shared by the razorpay and demo gateways, which use the same scheme.
func parseRazorpayWebhook(secret string, body []byte, signature string) (*WebhookEvent, error) {
	if !signatureEqual(SignBody(secret, body), signature) {
		return nil, ErrSignatureMismatch
	}

	var payload razorpayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	event := &WebhookEvent{
		Type:           payload.Event,
		GatewayOrderID: payload.Payload.Payment.Entity.OrderID,
		PaymentID:      payload.Payload.Payment.Entity.ID,
	}
	if event.GatewayOrderID == "" {
		event.GatewayOrderID = payload.Payload.Order.Entity.ID
	}

	switch payload.Event {
	case "payment.captured", "order.paid":
		event.Kind = WebhookCaptured
	case "payment.failed":
		event.Kind = WebhookFailed
	default:
		event.Kind = WebhookIgnored
	}
	return event, nil
}
