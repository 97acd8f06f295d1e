package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
)

// ErrCommitFailed is returned by a settle operation whose effect (republish
// or dead-letter write) happened but whose offset commit did not.
var ErrCommitFailed = errors.New("offset commit failed")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is one received message awaiting settlement.
type Delivery struct {
	MessageID     string
	CorrelationID string
	Type          string
	DeliveryCount int
	EnqueuedAt    time.Time
	Body          []byte

	Topic     string
	Partition int
	Offset    int64

	msg kafka.Message
}

// Context returns ctx carrying the trace context propagated in the headers.
func (d *Delivery) Context(ctx context.Context) context.Context {
	headers := d.msg.Headers
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &headers})
}

// Consumer reads a single topic of a consumer group with explicit
// settlement: Complete commits, Abandon re-enqueues with an incremented
// delivery count, DeadLetter moves the message to the paired dead-letter
// topic.
type Consumer struct {
	topic           string
	deadLetterTopic string
	reader          messageReader
	producer        *Producer
	metrics         *metrics.Metrics
	logger          *logging.Logger
}

// NewConsumer creates a consumer for topic. The producer is used to
// re-enqueue and dead-letter messages.
func NewConsumer(config *Config, topic string, producer *Producer, m *metrics.Metrics, logger *logging.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          topic,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		MaxWait:        config.MaxWait,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
	})
	return newConsumer(topic, reader, producer, m, logger)
}

func newConsumer(topic string, reader messageReader, producer *Producer, m *metrics.Metrics, logger *logging.Logger) *Consumer {
	return &Consumer{
		topic:           topic,
		deadLetterTopic: DeadLetterTopic(topic),
		reader:          reader,
		producer:        producer,
		metrics:         m,
		logger:          logger,
	}
}

// Receive blocks until the next message is available or ctx is done.
func (c *Consumer) Receive(ctx context.Context) (*Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message from %s: %w", c.topic, err)
	}

	count, err := strconv.Atoi(headerValue(msg.Headers, HeaderDeliveryCount))
	if err != nil || count < 1 {
		count = 1
	}

	d := &Delivery{
		MessageID:     headerValue(msg.Headers, HeaderID),
		CorrelationID: headerValue(msg.Headers, HeaderCorrelationID),
		Type:          headerValue(msg.Headers, HeaderType),
		DeliveryCount: count,
		EnqueuedAt:    msg.Time,
		Body:          msg.Value,
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		msg:           msg,
	}
	if d.MessageID == "" {
		// Messages from foreign producers get a stable id from their position.
		d.MessageID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}

	c.metrics.RecordKafkaConsume(c.topic)
	c.logger.KafkaConsume(ctx, c.topic, d.MessageID, d.Partition, d.Offset, d.DeliveryCount)
	return d, nil
}

// Complete removes the message from the queue.
func (c *Consumer) Complete(ctx context.Context, d *Delivery) error {
	return c.commit(ctx, d)
}

// Abandon returns the message to the queue for another delivery.
func (c *Consumer) Abandon(ctx context.Context, d *Delivery) error {
	msg := kafka.Message{
		Key:     d.msg.Key,
		Value:   d.msg.Value,
		Headers: withHeader(d.msg.Headers, HeaderDeliveryCount, strconv.Itoa(d.DeliveryCount+1)),
		Time:    d.msg.Time,
	}
	if err := c.producer.write(ctx, c.topic, d.Type, msg); err != nil {
		return fmt.Errorf("failed to re-enqueue message %s: %w", d.MessageID, err)
	}
	return c.commit(ctx, d)
}

// DeadLetter parks the message on the dead-letter topic with a reason.
func (c *Consumer) DeadLetter(ctx context.Context, d *Delivery, reason, description string) error {
	headers := withHeader(d.msg.Headers, HeaderDeadLetterReason, reason)
	headers = withHeader(headers, HeaderDeadLetterDescription, description)

	msg := kafka.Message{
		Key:     d.msg.Key,
		Value:   d.msg.Value,
		Headers: headers,
		Time:    d.msg.Time,
	}
	if err := c.producer.write(ctx, c.deadLetterTopic, d.Type, msg); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", d.MessageID, err)
	}
	return c.commit(ctx, d)
}

func (c *Consumer) commit(ctx context.Context, d *Delivery) error {
	if err := c.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("%w for message %s: %v", ErrCommitFailed, d.MessageID, err)
	}
	return nil
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
