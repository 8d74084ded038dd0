package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/code-Quester/SpeakSutra/internal/services"
)

// toHTTPError maps service errors onto HTTP responses. Unknown errors become a 500 that
// hides the cause; the error handler still logs it.
func toHTTPError(err error, fallback string) error {
	var verr *services.ValidationError
	var gerr *services.GatewayError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  "Please check the highlighted fields",
			"fields": verr.Fields,
		}).SetInternal(err)
	case errors.As(err, &gerr):
		return echo.NewHTTPError(http.StatusBadGateway, "The payment provider is unavailable right now. Please try again.").SetInternal(err)
	case errors.Is(err, services.ErrSignatureMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid signature").SetInternal(err)
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Enrollment not found").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fallback).SetInternal(err)
	}
}
