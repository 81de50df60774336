package controlapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/heraldhq/herald/internal/analytics"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/validation"
)

// API is the main struct that holds dependencies and the router for the Control Plane.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	repo      store.Repository
	analytics *analytics.Service

	// invalidator tells data plane replicas to drop cached catalogs after writes.
	invalidator cache.Invalidator

	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
	retryBaseDelay  time.Duration
}

// Option customises the API.
type Option func(*API)

// WithLogger sets the base logger of the request logger middleware.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithPageSizes bounds notification listing.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(a *API) {
		a.defaultPageSize = defaultSize
		a.maxPageSize = maxSize
	}
}

// WithClock overrides the time source of analytics reports.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.analytics = a.analytics.WithClock(now) }
}

// NewAPI creates a new API instance. Every /api/v1 route requires an API key.
func NewAPI(repo store.Repository, invalidator cache.Invalidator, opts ...Option) *API {
	validation.AssertPresent(repo, "repository")
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}

	api := &API{
		Router:          chi.NewRouter(),
		repo:            repo,
		analytics:       analytics.NewService(repo, repo),
		invalidator:     invalidator,
		logger:          slog.Default(),
		defaultPageSize: 20,
		maxPageSize:     100,
		retryBaseDelay:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(api)
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	a.Router.Use(httpx.RequestLogger(a.logger))
	a.Router.Use(httpx.Metrics(observability.ControlPlaneReqDuration, observability.ControlPlaneReqTotal))
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/segments", func(r chi.Router) {
			r.Post("/", a.handleCreateSegment)
			r.Get("/", a.handleListSegments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetSegment)
				r.Put("/", a.handleReplaceSegment)
				r.Delete("/", a.handleDeleteSegment)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", a.handleCreateNotification)
			r.Get("/", a.handleListNotifications)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetNotification)
				r.Put("/", a.handleUpdateNotification)
				r.Delete("/", a.handleDeleteNotification)
				r.Patch("/status", a.handleUpdateNotificationStatus)
			})
		})

		r.Get("/analytics/notifications/{id}", a.handleNotificationAnalytics)
		r.Post("/events", a.handleIdentify)
	})
}

// handleHealthCheck reports HTTP serving capability. Dependency checks live
// on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
