package services

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/code-Quester/SpeakSutra/internal/models"
)

// MidtransService is the Snap checkout gateway. The local order reference doubles as the
// Midtrans order_id, and amounts are converted from minor units to whole rupiah.
type MidtransService struct {
	SnapClient snap.Client
	CoreClient coreapi.Client
	serverKey  string
	clientKey  string
}

func NewMidtransService(serverKey, clientKey string, isProduction bool) *MidtransService {
	env := midtrans.Sandbox
	if isProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	return &MidtransService{
		SnapClient: s,
		CoreClient: c,
		serverKey:  serverKey,
		clientKey:  clientKey,
	}
}

func (s *MidtransService) Name() models.PaymentGateway { return models.PaymentGatewayMidtrans }

func (s *MidtransService) PublicKey() string { return s.clientKey }

// SignatureHeader is empty: Midtrans signs inside the notification body.
func (s *MidtransService) SignatureHeader() string { return "" }

func (s *MidtransService) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gross := req.Amount / 100
	param := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Receipt,
			GrossAmt: gross,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    "course",
				Name:  req.Item,
				Price: gross,
				Qty:   1,
			},
		},
	}

	resp, merr := s.SnapClient.CreateTransaction(param)
	if merr != nil {
		return nil, fmt.Errorf("midtrans create transaction: %s", merr.Message)
	}

	return &GatewayOrder{
		ID:          req.Receipt,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
	}, nil
}

// ConfirmPayment asks Midtrans for the transaction status; the client-side callback
// carries no signature of its own.
func (s *MidtransService) ConfirmPayment(ctx context.Context, gatewayOrderID, paymentID, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	status, merr := s.CoreClient.CheckTransaction(gatewayOrderID)
	if merr != nil {
		return false, fmt.Errorf("midtrans check transaction: %s", merr.Message)
	}
	if paymentID != "" && status.TransactionID != paymentID {
		return false, nil
	}
	return midtransKind(status.TransactionStatus, status.FraudStatus) == WebhookCaptured, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

// ParseWebhook checks signature_key = hex(SHA512(order_id + status_code + gross_amount + serverKey)).
func (s *MidtransService) ParseWebhook(body []byte, _ string) (*WebhookEvent, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, ErrSignatureMismatch
	}

	if !signatureEqual(s.notificationSignature(n), n.SignatureKey) {
		return nil, ErrSignatureMismatch
	}

	return &WebhookEvent{
		Type:           n.TransactionStatus,
		Kind:           midtransKind(n.TransactionStatus, n.FraudStatus),
		GatewayOrderID: n.OrderID,
		PaymentID:      n.TransactionID,
	}, nil
}

func (s *MidtransService) notificationSignature(n midtransNotification) string {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + s.serverKey))
	return hex.EncodeToString(sum[:])
}

func midtransKind(transactionStatus, fraudStatus string) WebhookKind {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" || fraudStatus == "" {
			return WebhookCaptured
		}
		return WebhookIgnored
	case "settlement":
		return WebhookCaptured
	case "deny", "expire", "cancel", "failure":
		return WebhookFailed
	default:
		return WebhookIgnored
	}
}
