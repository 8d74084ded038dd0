package handlers

import (
	"strings"

	"github.com/code-Quester/SpeakSutra/internal/models"
)

type createOrderResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	LocalOrderID   string `json:"localOrderId"`
	CustomerID     string `json:"customerId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
	Token          string `json:"token,omitempty"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
}

// verifyPaymentRequest accepts both the neutral field names and the razorpay checkout
// handler's response fields.
type verifyPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r verifyPaymentRequest) resolved() (orderID, paymentID, signature string) {
	return firstNonEmpty(r.GatewayOrderID, r.RazorpayOrderID),
		firstNonEmpty(r.PaymentID, r.RazorpayPaymentID),
		firstNonEmpty(r.Signature, r.RazorpaySignature)
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type verifyEnrollmentRequest struct {
	CustomerID string `json:"customerId"`
}

type enrollmentResponse struct {
	IsEnrolled   bool   `json:"isEnrolled"`
	CustomerName string `json:"customerName,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
}

type sessionRequest struct {
	CustomerID string `json:"customerId"`
	OrderID    string `json:"orderId"`
}

type sessionStateResponse struct {
	Unlocked   bool   `json:"unlocked"`
	CustomerID string `json:"customerId,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
}

type customersResponse struct {
	Customers []models.Customer `json:"customers"`
	Total     int64             `json:"total"`
	Completed int64             `json:"completed"`
	Pending   int64             `json:"pending"`
	Failed    int64             `json:"failed"`
}

type demoPayRequest struct {
	GatewayOrderID string `json:"gatewayOrderId"`
}

type demoPayResponse struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

// coursePageData is the page-specific data of course.html.
type coursePageData struct {
	CourseName        string
	CustomerName      string
	OrderID           string
	WhatsappGroupLink string
	SupportEmail      string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
