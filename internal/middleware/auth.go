package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/logger"
)

// OperatorCookieName carries the Firebase session cookie of a signed-in operator.
const OperatorCookieName = "session"

// SessionVerifier verifies Firebase session cookies. *auth.Client implements it.
type SessionVerifier interface {
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
}

// RequireOperator returns a middleware that verifies the operator's Firebase session
// cookie. When allowed is non-empty the token email must be one of them. API requests
// get JSON errors, page requests are redirected to /login.
func RequireOperator(verifier SessionVerifier, allowed []string) echo.MiddlewareFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, email := range allowed {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			allowedSet[email] = struct{}{}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				if isAPIRequest(c) {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "Operator authentication is not configured")
				}
				return c.Redirect(http.StatusTemporaryRedirect, "/login?error=auth_not_configured")
			}

			cookie, err := c.Cookie(OperatorCookieName)
			if err != nil || cookie.Value == "" {
				return unauthenticated(c)
			}

			decodedToken, err := verifier.VerifySessionCookie(c.Request().Context(), cookie.Value)
			if err != nil {
				logger.Log.WithError(err).Debug("invalid operator session cookie")
				ClearCookie(c, OperatorCookieName)
				return unauthenticated(c)
			}

			email, _ := decodedToken.Claims["email"].(string)
			if len(allowedSet) > 0 {
				if _, ok := allowedSet[strings.ToLower(email)]; !ok {
					logger.Log.WithField("uid", decodedToken.UID).Warn("operator not in allow list")
					return echo.NewHTTPError(http.StatusForbidden, "You don't have permission to access this resource.")
				}
			}

			c.Set("userUID", decodedToken.UID)
			c.Set("userEmail", email)
			if name, ok := decodedToken.Claims["name"].(string); ok {
				c.Set("userName", name)
			}

			return next(c)
		}
	}
}

func unauthenticated(c echo.Context) error {
	if isAPIRequest(c) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
	}
	return c.Redirect(http.StatusTemporaryRedirect, "/login")
}

// ClearCookie expires the named cookie.
func ClearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
}

func isAPIRequest(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}
