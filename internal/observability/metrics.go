package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/heraldhq/herald/internal/config"
)

// NOTE: All metrics are defined globally here, so every binary registers the
// full set with zero values. Dashboards filter by the 'job' label instead.

// namespace defines the global prefix for all metrics (e.g., herald_...).
const namespace = "herald"

// lowLatencyBuckets defines custom buckets for the SDK-facing delivery path.
// Standard buckets start at 5ms, which is too coarse for a cached catalog read.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

// Delivery filter stages, used as the 'stage' label of DeliveryFiltered.
const (
	StageActivation  = "activation"
	StageEligibility = "eligibility"
	StageFrequency   = "frequency"
)

var (
	// BuildInfo is a constant 1 labelled with what is running, so dashboards
	// can correlate behaviour changes with deploys.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Always 1; labels identify the running binary",
	}, []string{"service", "version", "environment"})

	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: herald_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets, // Admin APIs run at human speed
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: herald_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// DATA PLANE (HTTP + gRPC)
	// -------------------------------------------------------------------------

	// DataPlaneReqDuration measures the latency of SDK HTTP requests.
	// Metric: herald_data_plane_http_handling_seconds
	DataPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle SDK HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "route"})

	// DataPlaneReqTotal counts SDK HTTP requests.
	// Metric: herald_data_plane_http_requests_total
	DataPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_requests_total",
		Help:      "Total SDK HTTP requests",
	}, []string{"method", "route", "code"})

	// DataPlaneGrpcDuration measures the latency of gRPC requests.
	// Metric: herald_data_plane_grpc_handling_seconds
	DataPlaneGrpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_handling_seconds",
		Help:      "Time taken to handle gRPC requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "code"})

	// DataPlaneGrpcTotal counts the total number of gRPC requests.
	// Metric: herald_data_plane_grpc_requests_total
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})

	// DataPlaneRateLimited counts event reports rejected by the rate limiter.
	DataPlaneRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "rate_limited_total",
		Help:      "Total event reports rejected by the rate limiter",
	})

	// --- Delivery pipeline ---

	// DeliveryRequests counts delivery requests by caller identity.
	DeliveryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "requests_total",
		Help:      "Total delivery requests",
	}, []string{"user"}) // identified, anonymous

	// DeliveryDelivered counts notifications returned to SDKs.
	DeliveryDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "notifications_delivered_total",
		Help:      "Total notifications delivered to SDKs",
	})

	// DeliveryFiltered counts notifications removed by each pipeline stage.
	DeliveryFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "notifications_filtered_total",
		Help:      "Total notifications removed from a delivery, by stage",
	}, []string{"stage"})

	// DeliveryFailures counts delivery requests degraded to an empty response.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "failures_total",
		Help:      "Total delivery requests degraded to an empty list",
	})

	// --- Catalog Cache L1 Metrics (Otter) ---

	CatalogCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 catalog cache hits (in-memory)",
	})

	CatalogCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 catalog cache misses",
	})

	// CatalogCacheEvictions tracks entries removed due to capacity pressure.
	CatalogCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_evictions_total",
		Help:      "Total catalog entries evicted due to capacity",
	})

	// CatalogCacheStaleLoads counts loads discarded because the account was
	// invalidated while they ran.
	CatalogCacheStaleLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_stale_loads_total",
		Help:      "Total catalog loads not cached because an invalidation raced them",
	})

	// CatalogCacheUsage reports item count; S3-FIFO (Otter) tracks items, not bytes.
	CatalogCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_items_count",
		Help:      "Current number of account catalogs in the L1 cache",
	})

	CatalogInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total catalog invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// EVENTS
	// -------------------------------------------------------------------------

	// EventsRecorded counts event writes by kind and outcome.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "recorded_total",
		Help:      "Total events written to the impression/click store",
	}, []string{"kind", "status"}) // status: success, fail

	// EventsPublished counts downstream (Kafka) publications.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published to the downstream stream",
	}, []string{"status"}) // status: success, fail, dropped

	// -------------------------------------------------------------------------
	// INFRASTRUCTURE POOLS
	// -------------------------------------------------------------------------

	// DatabasePoolConnections reports pgxpool state (total, idle, in_use, max).
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current PostgreSQL pool connections by state",
	}, []string{"state"})

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions from the pool",
	})

	// DatabasePoolWaitCount counts acquisitions that had to wait for a free connection.
	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that waited for a connection",
	})

	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	// RedisPoolConnections reports go-redis pool state (total, idle, stale).
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Current Redis pool connections by state",
	}, []string{"state"})

	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Times a free connection was NOT found in the pool",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Times a wait for a pool connection timed out",
	})

	// -------------------------------------------------------------------------
	// WORKER
	// -------------------------------------------------------------------------

	// WorkerJobDuration measures freshness (latency from enqueue to recorded).
	// Metric: herald_worker_job_processing_duration_seconds
	WorkerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "job_processing_duration_seconds",
		Help:      "End-to-end latency from enqueue to processing finish",
		Buckets:   prometheus.DefBuckets,
	})

	WorkerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Total queued events processed",
	}, []string{"status"}) // success, fail, invalid

	RedisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_queue_depth",
		Help:      "Current number of items in the event queue",
	})
)

// RecordBuildInfo publishes BuildInfo for one binary.
func RecordBuildInfo(app *config.AppConfig, service string) {
	BuildInfo.WithLabelValues(service, app.Version, app.Environment).Set(1)
}
