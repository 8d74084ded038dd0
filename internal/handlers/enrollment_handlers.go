package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

const maxWebhookBody = 1 << 20

// EnrollmentHandler serves the public enrollment API.
type EnrollmentHandler struct {
	svc *services.EnrollmentService
}

func NewEnrollmentHandler(svc *services.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{svc: svc}
}

// Health reports liveness.
func (h *EnrollmentHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateOrder stores a pending enrollment and opens the gateway order.
func (h *EnrollmentHandler) CreateOrder(c echo.Context) error {
	var req services.CreateOrderInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	res, err := h.svc.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err, "Could not create your order. Please try again.")
	}

	return c.JSON(http.StatusOK, createOrderResponse{
		Success:        true,
		OrderID:        res.GatewayOrderID,
		GatewayOrderID: res.GatewayOrderID,
		LocalOrderID:   res.LocalOrderID,
		CustomerID:     res.CustomerID,
		Amount:         res.Amount,
		Currency:       res.Currency,
		KeyID:          res.KeyID,
		Token:          res.Token,
		RedirectURL:    res.RedirectURL,
	})
}

// VerifyPayment checks the checkout callback signature and completes the enrollment.
func (h *EnrollmentHandler) VerifyPayment(c echo.Context) error {
	var req verifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	orderID, paymentID, signature := req.resolved()
	verified, err := h.svc.VerifyPayment(c.Request().Context(), services.VerifyPaymentInput{
		GatewayOrderID: orderID,
		PaymentID:      paymentID,
		Signature:      signature,
	})
	if err != nil {
		return toHTTPError(err, "Error verifying payment")
	}

	if !verified {
		return c.JSON(http.StatusBadRequest, messageResponse{
			Success: false,
			Message: "Payment verification failed. Please contact support with your order ID.",
		})
	}
	return c.JSON(http.StatusOK, messageResponse{
		Success: true,
		Message: "Payment verified successfully",
	})
}

// VerifyEnrollment answers whether a customer id has a completed enrollment.
func (h *EnrollmentHandler) VerifyEnrollment(c echo.Context) error {
	var req verifyEnrollmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	status, err := h.svc.CheckEnrollment(c.Request().Context(), req.CustomerID)
	if err != nil {
		return toHTTPError(err, "Error verifying enrollment")
	}

	resp := enrollmentResponse{IsEnrolled: status.Enrolled}
	if status.CustomerID != "" {
		resp.CustomerName = status.CustomerName
		resp.OrderID = status.OrderID
	}
	return c.JSON(http.StatusOK, resp)
}

// Webhook receives provider notifications. The raw body is authenticated before it is
// decoded.
func (h *EnrollmentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read body")
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Body too large")
	}

	gateway := h.svc.Gateway()
	var signature string
	if header := gateway.SignatureHeader(); header != "" {
		signature = c.Request().Header.Get(header)
	}

	outcome, err := h.svc.HandleWebhook(c.Request().Context(), body, signature)
	if err != nil {
		return toHTTPError(err, "Webhook processing failed")
	}

	logger.Log.WithField("outcome", outcome).Debug("webhook handled")
	return c.JSON(http.StatusOK, map[string]interface{}{"received": true})
}

// DemoPay plays the gateway's part for the demo provider: it returns the payment id and
// signature a real checkout would hand to the client.
func (h *EnrollmentHandler) DemoPay(c echo.Context) error {
	demo, ok := h.svc.Gateway().(*services.DemoGateway)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var req demoPayRequest
	if err := c.Bind(&req); err != nil || req.GatewayOrderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "gatewayOrderId is required")
	}

	paymentID, signature := demo.SimulatePayment(req.GatewayOrderID)
	return c.JSON(http.StatusOK, demoPayResponse{
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      paymentID,
		Signature:      signature,
	})
}
