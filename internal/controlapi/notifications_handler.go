package controlapi

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/validation"
)

// handleCreateNotification processes POST /api/v1/notifications.
//
// Responsibilities:
// 1. Decodes the JSON payload into the NotificationRequest DTO.
// 2. Sanitizes and validates the input.
// 3. Maps the DTO to the domain model and persists it with its targeting.
// 4. Invalidates the data plane catalog of the account.
// 5. Returns the created resource with a 201 Created status.
func (a *API) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	var req NotificationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		httpx.InvalidJSON(w, r, err)
		return
	}

	req.Sanitize()
	if details := req.Validate(); details != nil {
		httpx.InvalidInput(w, r, "Invalid notification", details...)
		return
	}

	n := req.toModel(acc.ID)
	if err := a.repo.CreateNotification(r.Context(), n); err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to create notification")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("notification created", slog.String("notification_id", n.ID), slog.String("status", string(n.Status)))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toNotification(n))
}

// handleListNotifications processes GET /api/v1/notifications.
// Supports ?status= plus page / page_size; out-of-range paging is clamped.
func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	// We return 400 Bad Request if the user sends invalid types (e.g., page=banana).
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		httpx.InvalidInput(w, r, err.Error())
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", a.defaultPageSize)
	if err != nil {
		httpx.InvalidInput(w, r, err.Error())
		return
	}

	status := store.NotificationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httpx.InvalidInput(w, r, "Invalid status filter",
			validation.FieldError{Field: "status", Issue: "must be one of [draft scheduled active ended]"})
		return
	}

	// We silently correct out-of-bounds values.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = a.defaultPageSize
	}
	pageSize = min(pageSize, a.maxPageSize)

	list, totalItems, err := a.repo.ListNotifications(r.Context(), acc.ID, store.NotificationFilter{
		Status: status,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		log.Error("failed to list notifications", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to list notifications")
		return
	}

	dtos := make([]Notification, len(list))
	for i, n := range list {
		dtos[i] = toNotification(n)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

func (a *API) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	n, err := a.repo.GetNotification(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to get notification")
		return
	}
	render.JSON(w, r, toNotification(n))
}

// handleUpdateNotification processes PUT /api/v1/notifications/{id}.
// The present fields are merged into the stored notification, and the merged
// result is validated as a whole before it is written back.
func (a *API) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	n, err := a.repo.GetNotification(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to get notification")
		return
	}

	var req UpdateNotificationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		httpx.InvalidJSON(w, r, err)
		return
	}

	req.applyTo(n)
	merged := requestFromModel(n)
	if details := merged.Validate(); details != nil {
		httpx.InvalidInput(w, r, "Invalid notification", details...)
		return
	}

	if err := a.repo.UpdateNotification(r.Context(), n); err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to update notification")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("notification updated", slog.String("notification_id", n.ID))
	render.JSON(w, r, toNotification(n))
}

// handleUpdateNotificationStatus processes PATCH /api/v1/notifications/{id}/status.
func (a *API) handleUpdateNotificationStatus(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	var req UpdateStatusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.InvalidJSON(w, r, err)
		return
	}
	if details := validation.Struct(req); details != nil {
		httpx.InvalidInput(w, r, "Invalid status", details...)
		return
	}

	n, err := a.repo.UpdateNotificationStatus(r.Context(), acc.ID, chi.URLParam(r, "id"), store.NotificationStatus(req.Status))
	if err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to update notification status")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("notification status changed", slog.String("notification_id", n.ID), slog.String("status", req.Status))
	render.JSON(w, r, toNotification(n))
}

// handleDeleteNotification processes DELETE /api/v1/notifications/{id}.
// Impressions and clicks of the notification go with it.
func (a *API) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := a.repo.DeleteNotification(r.Context(), acc.ID, id); err != nil {
		a.writeStoreError(w, r, err, "Notification not found", "Failed to delete notification")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("notification deleted", slog.String("notification_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
