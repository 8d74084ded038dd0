package services

import (
	"context"
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/code-Quester/SpeakSutra/internal/models"
)

// DemoGateway stands in for a real provider in development and tests. Orders are created
// locally; signatures follow the Razorpay scheme with a local secret, so callers go
// through exactly the same verification path.
type DemoGateway struct {
	secret string
	newID  func() string
}

func NewDemoGateway(secret string) (*DemoGateway, error) {
	gen, err := nanoid.Standard(14)
	if err != nil {
		return nil, fmt.Errorf("init demo id generator: %w", err)
	}
	return &DemoGateway{secret: secret, newID: gen}, nil
}

func (g *DemoGateway) Name() models.PaymentGateway { return models.PaymentGatewayDemo }

func (g *DemoGateway) PublicKey() string { return "rzp_test_demo" }

func (g *DemoGateway) SignatureHeader() string { return "X-Razorpay-Signature" }

func (g *DemoGateway) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &GatewayOrder{
		ID:       "order_demo_" + g.newID(),
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *DemoGateway) ConfirmPayment(_ context.Context, gatewayOrderID, paymentID, signature string) (bool, error) {
	return signatureEqual(SignPayment(g.secret, gatewayOrderID, paymentID), signature), nil
}

func (g *DemoGateway) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	return parseRazorpayWebhook(g.secret, body, signature)
}

// SimulatePayment plays the hosted checkout: it returns a synthetic payment id and the
// signature the provider would hand to the client.
func (g *DemoGateway) SimulatePayment(gatewayOrderID string) (paymentID, signature string) {
	paymentID = "pay_demo_" + g.newID()
	return paymentID, SignPayment(g.secret, gatewayOrderID, paymentID)
}
