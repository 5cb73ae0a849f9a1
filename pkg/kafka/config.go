package kafka

import (
	"time"
)

// Config holds Kafka producer configuration
type Config struct {
	Brokers  []string `yaml:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic    string   `yaml:"topic" validate:"required"`
	ClientID string   `yaml:"clientId"`

	BatchSize    int           `yaml:"batchSize" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks" validate:"oneof=-1 0 1"` // 0: no ack, 1: leader ack, -1: all replicas ack
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:  []string{"localhost:9092"},
		Topic:    TopicReturnsEvents,
		ClientID: "refund-processor",

		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: -1,
	}
}

// TopicReturnsEvents carries reconciliation outcome events
const TopicReturnsEvents = "returns.events"
