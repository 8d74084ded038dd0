package services

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/code-Quester/SpeakSutra/internal/models"
)

// RazorpayGateway creates orders through the Razorpay Orders API and verifies the
// checkout and webhook HMAC signatures.
type RazorpayGateway struct {
	client        *razorpay.Client
	keyID         string
	keySecret     string
	webhookSecret string
}

func NewRazorpayGateway(keyID, keySecret, webhookSecret string) *RazorpayGateway {
	return &RazorpayGateway{
		client:        razorpay.NewClient(keyID, keySecret),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (g *RazorpayGateway) Name() models.PaymentGateway { return models.PaymentGatewayRazorpay }

func (g *RazorpayGateway) PublicKey() string { return g.keyID }

func (g *RazorpayGateway) SignatureHeader() string { return "X-Razorpay-Signature" }

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes": map[string]interface{}{
			"customerId": req.CustomerID,
			"name":       req.Name,
			"email":      req.Email,
			"whatsapp":   req.Phone,
		},
	}

	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	return orderFromRazorpay(body)
}

// orderFromRazorpay converts the decoded Orders API response.
func orderFromRazorpay(body map[string]interface{}) (*GatewayOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("razorpay response without order id: %v", body)
	}

	order := &GatewayOrder{ID: id}
	if amount, ok := body["amount"].(float64); ok {
		order.Amount = int64(amount)
	}
	order.Currency, _ = body["currency"].(string)
	return order, nil
}

func (g *RazorpayGateway) ConfirmPayment(_ context.Context, gatewayOrderID, paymentID, signature string) (bool, error) {
	return signatureEqual(SignPayment(g.keySecret, gatewayOrderID, paymentID), signature), nil
}

func (g *RazorpayGateway) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	return parseRazorpayWebhook(g.webhookSecret, body, signature)
}
