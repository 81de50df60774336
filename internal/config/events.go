package config

import (
	"fmt"
	"strings"
)

// Event recording modes.
const (
	// EventsModeDirect writes events to the store inside the request.
	EventsModeDirect = "direct"
	// EventsModeQueue pushes events onto a Redis list drained by the worker.
	EventsModeQueue = "queue"
)

// EventsConfig controls how reported impressions, clicks and dismissals are persisted
// and whether they are mirrored to Kafka.
type EventsConfig struct {
	Mode     string `envconfig:"MODE" default:"direct" validate:"oneof=direct queue"`
	QueueKey string `envconfig:"QUEUE_KEY" default:"herald:events"`

	// Kafka mirroring is disabled while no brokers are configured.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"herald.notification-events"`
}

// KafkaEnabled reports whether events are mirrored to Kafka.
func (c *EventsConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks EventsConfig fields for correctness.
func (c *EventsConfig) Validate() error {
	if c.Mode == EventsModeQueue {
		if err := validateNoWhitespace(c.QueueKey, "events queue key"); err != nil {
			return err
		}
	}

	if c.KafkaEnabled() {
		for _, broker := range c.KafkaBrokers {
			if !strings.Contains(broker, ":") {
				return fmt.Errorf("kafka broker %q must be in host:port form", broker)
			}
		}
		if err := validateNoWhitespace(c.KafkaTopic, "kafka topic"); err != nil {
			return err
		}
	}

	return nil
}
