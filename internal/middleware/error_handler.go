package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/web"
)

// ErrorPageData is the page-specific data of error.html.
type ErrorPageData struct {
	ErrorTitle   string
	ErrorMessage string
	BackLink     string
	BackText     string
}

// CustomErrorHandler renders JSON errors for /api routes and the error page elsewhere.
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	errorTitle := "Internal Server Error"
	errorMessage := ""
	var body interface{}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch msg := he.Message.(type) {
		case string:
			errorMessage = msg
		case map[string]interface{}:
			body = msg
		}

		switch code {
		case http.StatusNotFound:
			errorTitle = "Page Not Found"
			if errorMessage == "" {
				errorMessage = "The page you're looking for doesn't exist."
			}
		case http.StatusForbidden:
			errorTitle = "Access Denied"
			if errorMessage == "" {
				errorMessage = "You don't have permission to access this resource."
			}
		case http.StatusUnauthorized:
			errorTitle = "Unauthorized"
			if errorMessage == "" {
				errorMessage = "Please log in to continue."
			}
		case http.StatusBadRequest:
			errorTitle = "Bad Request"
			if errorMessage == "" {
				errorMessage = "The request could not be processed."
			}
		default:
			if errorMessage == "" {
				errorMessage = "Something went wrong. Please try again later."
			}
		}
	} else {
		errorMessage = "Something went wrong. Please try again later."
	}

	entry := logger.Log.WithError(err).WithFields(logrus.Fields{
		"status": code,
		"path":   c.Request().URL.Path,
	})
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}

	if isAPIRequest(c) {
		if body == nil {
			body = map[string]interface{}{"error": errorMessage}
		}
		if jsonErr := c.JSON(code, body); jsonErr != nil {
			logger.Log.WithError(jsonErr).Error("failed to write error response")
		}
		return
	}

	renderErr := c.Render(code, "error.html", &web.PageData{
		Title: errorTitle,
		Breadcrumbs: []web.Breadcrumb{
			{Title: "Home", URL: "/"},
			{Title: "Error", URL: ""},
		},
		Data: ErrorPageData{
			ErrorTitle:   errorTitle,
			ErrorMessage: errorMessage,
		},
	})
	if renderErr != nil {
		logger.Log.WithError(renderErr).Error("failed to render error page")
		_ = c.String(code, errorMessage)
	}
}
