package controlapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/validation"
)

// handleIdentify processes POST /api/v1/events. A customer backend reports a
// named event for one of its users; the user's attributes are stored so that
// later deliveries and dashboards see them.
func (a *API) handleIdentify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	var req IdentifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		httpx.InvalidJSON(w, r, err)
		return
	}
	if details := validation.Struct(req); details != nil {
		httpx.InvalidInput(w, r, "Invalid event", details...)
		return
	}

	var user identifiedUser
	if err := json.Unmarshal(req.User, &user); err != nil {
		httpx.InvalidInput(w, r, "Invalid user", validation.FieldError{Field: "user", Issue: "must be an object"})
		return
	}
	if details := validation.Struct(user); details != nil {
		for i := range details {
			details[i].Field = "user." + details[i].Field
		}
		httpx.InvalidInput(w, r, "Invalid user", details...)
		return
	}

	var attrs ruleengine.UserAttributes
	if err := json.Unmarshal(req.User, &attrs); err != nil {
		httpx.InvalidInput(w, r, "Invalid user", validation.FieldError{Field: "user", Issue: err.Error()})
		return
	}

	if _, err := a.repo.EnsureEndUser(r.Context(), acc.ID, attrs.ID, &attrs); err != nil {
		log.Error("failed to upsert end user", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to record event")
		return
	}

	log.Info("event received", slog.String("event", req.Event), slog.String("external_user_id", attrs.ID))
	render.JSON(w, r, IdentifyResponse{Received: true, Event: req.Event})
}
