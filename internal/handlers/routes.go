package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/middleware"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

// Router groups the handlers and the middleware they run behind.
type Router struct {
	Enrollment *EnrollmentHandler
	Session    *SessionHandler
	Auth       *AuthHandler
	Dashboard  *DashboardHandler

	Sessions        *services.SessionManager
	OperatorAuth    middleware.SessionVerifier
	OperatorEmails  []string
	DemoPaymentsAPI bool
}

// Register mounts every route on e.
func (r *Router) Register(e *echo.Echo) {
	requireOperator := middleware.RequireOperator(r.OperatorAuth, r.OperatorEmails)

	// Operator sign-in
	e.GET("/login", r.Auth.LoginPage)
	e.POST("/auth/login", r.Auth.HandleLogin)
	e.POST("/auth/logout", r.Auth.HandleLogout)

	api := e.Group("/api")
	api.GET("/health", r.Enrollment.Health)
	api.POST("/create-customer-order", r.Enrollment.CreateOrder)
	api.POST("/verify-payment", r.Enrollment.VerifyPayment)
	api.POST("/verify-enrollment", r.Enrollment.VerifyEnrollment)
	api.POST("/webhook", r.Enrollment.Webhook)
	if r.DemoPaymentsAPI {
		api.POST("/demo/pay", r.Enrollment.DemoPay)
	}

	api.GET("/session", r.Session.State)
	api.POST("/session", r.Session.Unlock)
	api.POST("/session/logout", r.Session.Logout)

	api.GET("/customers", r.Dashboard.ListCustomers, requireOperator)
	api.GET("/customers/:id", r.Dashboard.GetCustomer, requireOperator)

	// Enrollment-gated course view
	e.GET("/course", r.Session.CoursePage, middleware.RequireEnrollment(r.Sessions))
	e.POST("/logout", r.Session.LogoutPage)

	admin := e.Group("/admin", requireOperator)
	admin.GET("/customers", r.Dashboard.CustomersPage)

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusTemporaryRedirect, "/course")
	})
}
