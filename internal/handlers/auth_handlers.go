package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/middleware"
)

const operatorSessionTTL = 5 * 24 * time.Hour

// FirebaseAuth is the part of *auth.Client used for operator sign-in.
type FirebaseAuth interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
}

// AuthHandler handles operator authentication endpoints
type AuthHandler struct {
	authClient   FirebaseAuth
	firebase     config.Firebase
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. authClient may be nil when Firebase is not configured.
func NewAuthHandler(authClient FirebaseAuth, firebase config.Firebase, secureCookie bool) *AuthHandler {
	return &AuthHandler{authClient: authClient, firebase: firebase, secureCookie: secureCookie}
}

// LoginPage renders the login page
func (h *AuthHandler) LoginPage(c echo.Context) error {
	data := map[string]interface{}{
		"FirebaseAPIKey":     h.firebase.APIKey,
		"FirebaseAuthDomain": h.firebase.AuthDomain,
		"FirebaseProjectID":  h.firebase.ProjectID,
	}
	if c.QueryParam("error") == "auth_not_configured" {
		data["Error"] = "Operator sign-in is not configured on this server."
	}
	return c.Render(http.StatusOK, "login.html", data)
}

// HandleLogin verifies the Firebase ID token and creates a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Firebase not initialized",
		})
	}

	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Missing authorization header",
		})
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid authorization format",
		})
	}

	if _, err := h.authClient.VerifyIDToken(c.Request().Context(), tokenString); err != nil {
		logger.Log.WithError(err).Debug("operator id token rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid token",
		})
	}

	cookieValue, err := h.authClient.SessionCookie(c.Request().Context(), tokenString, operatorSessionTTL)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create operator session cookie")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to create session",
		})
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.OperatorCookieName,
		Value:    cookieValue,
		MaxAge:   int(operatorSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]string{
		"status": "success",
	})
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	middleware.ClearCookie(c, middleware.OperatorCookieName)
	return c.JSON(http.StatusOK, map[string]string{
		"status": "logged out",
	})
}
