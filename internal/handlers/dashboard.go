package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/web"
)

// DashboardHandler serves the operator's view of enrollment records.
type DashboardHandler struct {
	svc *services.EnrollmentService
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(svc *services.EnrollmentService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

// ListCustomers returns all records, newest first, with counts by status.
func (h *DashboardHandler) ListCustomers(c echo.Context) error {
	status, err := statusFilter(c)
	if err != nil {
		return err
	}

	list, err := h.svc.ListCustomers(c.Request().Context(), status)
	if err != nil {
		return toHTTPError(err, "Error fetching customers")
	}

	customers := list.Customers
	if customers == nil {
		customers = []models.Customer{}
	}
	return c.JSON(http.StatusOK, customersResponse{
		Customers: customers,
		Total:     list.Total,
		Completed: list.Completed,
		Pending:   list.Pending,
		Failed:    list.Failed,
	})
}

// GetCustomer returns one enrollment record.
func (h *DashboardHandler) GetCustomer(c echo.Context) error {
	customer, err := h.svc.GetCustomer(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err, "Error fetching customer")
	}
	return c.JSON(http.StatusOK, customer)
}

// CustomersPage renders the same list as an HTML table.
func (h *DashboardHandler) CustomersPage(c echo.Context) error {
	status, err := statusFilter(c)
	if err != nil {
		return err
	}

	list, err := h.svc.ListCustomers(c.Request().Context(), status)
	if err != nil {
		return toHTTPError(err, "Error fetching customers")
	}

	return c.Render(http.StatusOK, "customers.html", &web.PageData{
		Title:     "Enrollments",
		ActiveNav: "customers",
		Breadcrumbs: []web.Breadcrumb{
			{Title: "Home", URL: "/"},
			{Title: "Customers", URL: ""},
		},
		UserEmail: getStringFromContext(c, "userEmail"),
		UserUID:   getStringFromContext(c, "userUID"),
		Data:      list,
	})
}

func statusFilter(c echo.Context) (models.PaymentStatus, error) {
	status := models.PaymentStatus(c.QueryParam("status"))
	switch status {
	case "", models.PaymentStatusPending, models.PaymentStatusCompleted, models.PaymentStatusFailed:
		return status, nil
	default:
		return "", echo.NewHTTPError(http.StatusBadRequest, "status must be one of pending, completed, failed")
	}
}

// Helper to safely get string from context
func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}
