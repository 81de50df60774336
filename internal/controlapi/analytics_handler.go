package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/analytics"
	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
)

// handleNotificationAnalytics processes GET /api/v1/analytics/notifications/{id}?days=30.
func (a *API) handleNotificationAnalytics(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	days, err := parseOptionalInt(r, "days", analytics.DefaultDays)
	if err != nil {
		httpx.InvalidInput(w, r, err.Error())
		return
	}

	report, err := a.analytics.NotificationReport(r.Context(), acc.ID, chi.URLParam(r, "id"), days)
	switch {
	case errors.Is(err, analytics.ErrInvalidDays):
		httpx.InvalidInput(w, r, err.Error())
		return
	case errors.Is(err, analytics.ErrNotificationNotFound):
		httpx.NotFound(w, r, "Notification not found")
		return
	case err != nil:
		logger.FromContext(r.Context()).Error("failed to build analytics report", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to build analytics report")
		return
	}

	render.JSON(w, r, report)
}
