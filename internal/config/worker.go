package config

import "time"

// WorkerConfig contains configuration for the event queue worker service.
type WorkerConfig struct {
	// Enabled lets a deployment keep the worker idle, e.g. while events run in direct mode.
	Enabled        bool          `envconfig:"ENABLED" default:"true"`
	PopTimeout     time.Duration `envconfig:"POP_TIMEOUT" default:"5s" validate:"gt=0"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`
	Concurrency    int           `envconfig:"CONCURRENCY" default:"4" validate:"min=1"`

	// QueueMonitorInterval is how often the queue length is sampled into metrics.
	QueueMonitorInterval time.Duration `envconfig:"QUEUE_MONITOR_INTERVAL" default:"15s" validate:"gt=0"`
}
