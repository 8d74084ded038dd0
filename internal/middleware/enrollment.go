package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/web"
)

// EnrollmentClaimsKey is the context key holding *services.SessionClaims of an unlocked request.
const EnrollmentClaimsKey = "enrollmentClaims"

// RequireEnrollment keeps the course view behind the Enrollment Gate. A locked request
// gets the explanation page with a path to enroll, or a JSON 403 under /api.
func RequireEnrollment(sessions *services.SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var token string
			if cookie, err := c.Cookie(services.SessionCookieName); err == nil {
				token = cookie.Value
			}

			state, claims := sessions.State(c.Request().Context(), token)
			if state == services.GateUnlocked {
				c.Set(EnrollmentClaimsKey, claims)
				return next(c)
			}

			if token != "" {
				ClearCookie(c, services.SessionCookieName)
			}
			if isAPIRequest(c) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"isEnrolled": false,
					"error":      "Course access requires a completed enrollment",
					"enrollUrl":  "/pricing",
				})
			}
			return c.Render(http.StatusForbidden, "locked.html", &web.PageData{
				Title: "Access Restricted",
				Breadcrumbs: []web.Breadcrumb{
					{Title: "Home", URL: "/"},
					{Title: "Course", URL: ""},
				},
			})
		}
	}
}
