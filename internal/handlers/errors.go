package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crewdesk/crewdesk/internal/models"
	"github.com/crewdesk/crewdesk/internal/store"
)

// httpError maps domain errors onto the HTTP error taxonomy: validation
// failures carry field messages, missing records map to not found, and
// authorization failures stay distinguishable from both.
func httpError(err error) error {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"message": "validation failed",
			"fields":  verr.Fields,
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if errors.Is(err, models.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusForbidden, "not permitted")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
