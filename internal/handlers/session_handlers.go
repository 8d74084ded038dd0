package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/middleware"
	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/web"
)

// SessionHandler drives the Enrollment Gate: unlock after a confirmed payment, state
// lookups, logout and the protected course page.
type SessionHandler struct {
	sessions     *services.SessionManager
	enrollments  services.EnrollmentChecker
	course       config.Course
	secureCookie bool
}

func NewSessionHandler(sessions *services.SessionManager, enrollments services.EnrollmentChecker, course config.Course, secureCookie bool) *SessionHandler {
	return &SessionHandler{sessions: sessions, enrollments: enrollments, course: course, secureCookie: secureCookie}
}

// Unlock issues the session cookie when the customer and order match a completed
// enrollment.
func (h *SessionHandler) Unlock(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	token, claims, err := h.sessions.Unlock(c.Request().Context(), req.CustomerID, req.OrderID)
	if errors.Is(err, services.ErrNotEnrolled) {
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"isEnrolled": false,
			"error":      "We could not find a completed enrollment for this order. If you have paid, please contact support.",
			"enrollUrl":  "/pricing",
		})
	}
	if err != nil {
		return toHTTPError(err, "Could not start your session")
	}

	c.SetCookie(&http.Cookie{
		Name:     services.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]interface{}{
		"isEnrolled": true,
		"customerId": claims.CustomerID,
		"orderId":    claims.OrderID,
	})
}

// State reports whether the request carries a valid enrollment session.
func (h *SessionHandler) State(c echo.Context) error {
	var token string
	if cookie, err := c.Cookie(services.SessionCookieName); err == nil {
		token = cookie.Value
	}

	state, claims := h.sessions.State(c.Request().Context(), token)
	if state != services.GateUnlocked {
		return c.JSON(http.StatusOK, sessionStateResponse{Unlocked: false})
	}
	return c.JSON(http.StatusOK, sessionStateResponse{
		Unlocked:   true,
		CustomerID: claims.CustomerID,
		OrderID:    claims.OrderID,
	})
}

// Logout revokes the session and clears the cookie.
func (h *SessionHandler) Logout(c echo.Context) error {
	h.lock(c)
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// LogoutPage is Logout for the course page form.
func (h *SessionHandler) LogoutPage(c echo.Context) error {
	h.lock(c)
	return c.Redirect(http.StatusSeeOther, "/")
}

func (h *SessionHandler) lock(c echo.Context) {
	if cookie, err := c.Cookie(services.SessionCookieName); err == nil {
		if err := h.sessions.Lock(c.Request().Context(), cookie.Value); err != nil {
			logger.Log.WithError(err).Warn("session revocation failed, clearing cookie only")
		}
	}
	middleware.ClearCookie(c, services.SessionCookieName)
}

// CoursePage renders the protected course view. It runs behind RequireEnrollment.
func (h *SessionHandler) CoursePage(c echo.Context) error {
	claims, ok := c.Get(middleware.EnrollmentClaimsKey).(*services.SessionClaims)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden)
	}

	data := coursePageData{
		CourseName:        h.course.Name,
		OrderID:           claims.OrderID,
		WhatsappGroupLink: h.course.WhatsappGroupLink,
		SupportEmail:      h.course.SupportEmail,
	}
	if status, err := h.enrollments.CheckEnrollment(c.Request().Context(), claims.CustomerID); err == nil {
		data.CustomerName = status.CustomerName
	}

	return c.Render(http.StatusOK, "course.html", &web.PageData{
		Title:     h.course.Name,
		ActiveNav: "course",
		Breadcrumbs: []web.Breadcrumb{
			{Title: "Home", URL: "/"},
			{Title: "Course", URL: ""},
		},
		Data: data,
	})
}
