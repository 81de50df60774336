package dataapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/ratelimit"
)

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(httpx.RequestLogger(a.logger))
	a.Router.Use(httpx.Metrics(observability.DataPlaneReqDuration, observability.DataPlaneReqTotal))
	a.Router.Use(middleware.Recoverer)
	// The SDK runs on customer pages, so preflight must pass for any listed origin.
	a.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	a.Router.Use(a.limitBody)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	a.Router.Route("/api/v1/sdk", func(r chi.Router) {
		r.With(ratelimit.Middleware(a.limiter, rateLimited)).Post("/track", a.handleTrack)
		r.Post("/{accountId}", a.handleDeliver)
	})
}

// limitBody caps request bodies at maxBodyBytes.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	httpx.Error(w, r, http.StatusTooManyRequests, httpx.CodeRateLimited, "Too many event reports, slow down")
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
// It reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := render.DecodeJSON(r.Body, v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.Error(w, r, http.StatusRequestEntityTooLarge, httpx.CodeInvalidInput, "Request body too large")
		return false
	}
	httpx.InvalidJSON(w, r, err)
	return false
}

// handleDeliver processes POST /api/v1/sdk/{accountId}.
//
// The user object is optional; a missing or malformed one is served as the
// anonymous user, and so is a body that is not JSON at all. Apart from an
// unknown account or an oversized body, failures answer with an empty list
// so the host page never breaks.
func (a *API) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req DeliverRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Error(w, r, http.StatusRequestEntityTooLarge, httpx.CodeInvalidInput, "Request body too large")
			return
		}
		logger.FromContext(r.Context()).Debug("undecodable delivery body, serving the anonymous user",
			slog.String("error", err.Error()))
		req = DeliverRequest{}
	}

	payloads, err := a.deliver(r.Context(), chi.URLParam(r, "accountId"), req.User)
	if err != nil {
		httpx.NotFound(w, r, "Account not found")
		return
	}
	render.JSON(w, r, DeliverResponse{Notifications: payloads})
}

// handleTrack processes POST /api/v1/sdk/track.
func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := a.track(r.Context(), &req)
	var invalid *errInvalidTrack
	switch {
	case errors.As(err, &invalid):
		httpx.InvalidInput(w, r, "Invalid event report", invalid.details...)
		return
	case errors.Is(err, events.ErrNotificationNotFound):
		httpx.NotFound(w, r, "Notification not found")
		return
	case err != nil:
		logger.FromContext(r.Context()).Error("failed to authorize event report", slog.String("error", err.Error()))
		httpx.Internal(w, r, "Failed to process event report")
		return
	}

	render.JSON(w, r, TrackResponse{OK: true})
}
