package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/shipment-service/pkg/cloudevents"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/resilience"
)

const tracerName = "github.com/wms-platform/shipment-service/pkg/kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages to Kafka topics, one writer per topic.
type Producer struct {
	config    *Config
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// ProducerOption configures a Producer
type ProducerOption func(*Producer)

// WithCircuitBreaker routes every write through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ProducerOption {
	return func(p *Producer) { p.breaker = cb }
}

// WithMetrics records publish metrics.
func WithMetrics(m *metrics.Metrics) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

// NewProducer creates a new Kafka producer
func NewProducer(config *Config, logger *logging.Logger, opts ...ProducerOption) *Producer {
	p := &Producer{
		config:  config,
		writers: make(map[string]messageWriter),
		logger:  logger,
	}
	p.newWriter = func(topic string) messageWriter {
		return &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              config.BatchSize,
			BatchTimeout:           config.BatchTimeout,
			RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
			AllowAutoTopicCreation: config.AutoCreateTopics,
			Transport:              &kafka.Transport{ClientID: config.ClientID},
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Producer) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish sends event to topic in CloudEvents binary mode. The key selects
// the partition, so events sharing a key stay ordered.
func (p *Producer) Publish(ctx context.Context, topic, key string, event *cloudevents.Event) error {
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   event.Data,
		Headers: eventHeaders(event),
		Time:    event.Time,
	}
	return p.write(ctx, topic, event.Type, msg)
}

func (p *Producer) write(ctx context.Context, topic, eventType string, msg kafka.Message) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationNameKey.String(topic),
			semconv.MessagingOperationKey.String("publish"),
			attribute.String("messaging.message.type", eventType),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	start := time.Now()
	w := p.writer(topic)
	send := func(ctx context.Context) error { return w.WriteMessages(ctx, msg) }

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}

	duration := time.Since(start)
	p.metrics.RecordKafkaPublish(topic, err == nil, duration)
	p.logger.KafkaPublish(ctx, topic, eventType, err == nil, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close writer for topic %s: %w", topic, err)
		}
	}
	return lastErr
}
