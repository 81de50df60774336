package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/store"
)

// decodeSegmentRequest decodes, sanitizes and validates a segment payload.
// It writes the error response itself and returns false on failure.
func decodeSegmentRequest(w http.ResponseWriter, r *http.Request) (*SegmentRequest, bool) {
	var req SegmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		httpx.InvalidJSON(w, r, err)
		return nil, false
	}

	req.Sanitize()
	if details := req.Validate(); details != nil {
		httpx.InvalidInput(w, r, "Invalid segment", details...)
		return nil, false
	}
	return &req, true
}

// handleCreateSegment processes POST /api/v1/segments.
func (a *API) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	req, ok := decodeSegmentRequest(w, r)
	if !ok {
		return
	}

	seg := &store.Segment{AccountID: acc.ID, Name: req.Name, Rules: req.filterRules()}
	if err := a.repo.CreateSegment(r.Context(), seg); err != nil {
		log.Error("failed to create segment", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to create segment")
		return
	}

	log.Info("segment created", slog.String("segment_id", seg.ID), slog.Int("rules", len(seg.Rules)))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toSegment(seg))
}

// handleListSegments processes GET /api/v1/segments, newest first.
func (a *API) handleListSegments(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	segs, err := a.repo.ListSegments(r.Context(), acc.ID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list segments", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to list segments")
		return
	}

	dtos := make([]Segment, len(segs))
	for i, s := range segs {
		dtos[i] = toSegment(s)
	}
	render.JSON(w, r, ListResponse{Data: dtos})
}

func (a *API) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFromContext(r.Context())

	seg, err := a.repo.GetSegment(r.Context(), acc.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, r, err, "Segment not found", "Failed to get segment")
		return
	}
	render.JSON(w, r, toSegment(seg))
}

// handleReplaceSegment processes PUT /api/v1/segments/{id}. The rule set is
// rewritten wholesale and every notification targeting the segment sees the
// new rules, so the catalog is invalidated.
func (a *API) handleReplaceSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())

	req, ok := decodeSegmentRequest(w, r)
	if !ok {
		return
	}

	seg := &store.Segment{ID: chi.URLParam(r, "id"), AccountID: acc.ID, Name: req.Name, Rules: req.filterRules()}
	if err := a.repo.ReplaceSegment(r.Context(), seg); err != nil {
		a.writeStoreError(w, r, err, "Segment not found", "Failed to update segment")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("segment replaced", slog.String("segment_id", seg.ID))
	render.JSON(w, r, toSegment(seg))
}

// handleDeleteSegment processes DELETE /api/v1/segments/{id}.
// Notifications that targeted it simply lose that include/exclude entry.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	acc, _ := AccountFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := a.repo.DeleteSegment(r.Context(), acc.ID, id); err != nil {
		a.writeStoreError(w, r, err, "Segment not found", "Failed to delete segment")
		return
	}

	a.notifyCatalogAsync(log, acc.ID)
	log.Info("segment deleted", slog.String("segment_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError maps repository errors onto the error envelope.
func (a *API) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound, internal string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.NotFound(w, r, notFound)
	case errors.Is(err, store.ErrInvalidReference):
		httpx.InvalidInput(w, r, "Unknown segment referenced")
	case errors.Is(err, store.ErrConflict):
		httpx.Error(w, r, http.StatusConflict, httpx.CodeConflict, "Resource already exists")
	default:
		logger.FromContext(r.Context()).Error(internal, slog.String("error", err.Error()))
		httpx.Internal(w, r, internal)
	}
}
