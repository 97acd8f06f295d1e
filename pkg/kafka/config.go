package kafka

import (
	"time"
)

// Config holds Kafka configuration
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	// Producer settings
	BatchSize        int
	BatchTimeout     time.Duration
	RequiredAcks     int // 0: no ack, 1: leader ack, -1: all replicas ack
	AutoCreateTopics bool

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
	// CommitInterval of zero commits synchronously on every settle.
	CommitInterval time.Duration
	StartOffset    int64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "shipment-label-worker",
		ClientID:      "shipment-service",

		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,

		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: FirstOffset,
	}
}

// Offsets for a consumer group without committed offsets.
const (
	FirstOffset int64 = -2
	LastOffset  int64 = -1
)

// Topics contains the Kafka topic names used by the service
var Topics = struct {
	LabelsUploaded string
}{
	LabelsUploaded: "shipping.labels.uploaded",
}

// DeadLetterTopic returns the dead-letter topic paired with topic.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}
