package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors. All Record methods are
// safe on a nil *Metrics.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka metrics
	KafkaMessagesPublished *prometheus.CounterVec
	KafkaPublishDuration   *prometheus.HistogramVec
	KafkaMessagesConsumed  *prometheus.CounterVec
	KafkaMessagesSettled   *prometheus.CounterVec

	// Blob store metrics
	BlobOperations        *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec

	// Label saga and worker metrics
	LabelUploads       *prometheus.CounterVec
	LabelProcessing    *prometheus.HistogramVec
	ShipmentsCreated   prometheus.Counter
	InboxDuplicateHits prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "shipment",
	}
}

// New creates a new Metrics instance on a private registry.
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	ns := config.Namespace
	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total", Help: "Total number of HTTP requests"},
		[]string{"service", "method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.KafkaMessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "kafka_messages_published_total", Help: "Total number of Kafka messages published"},
		[]string{"service", "topic", "status"},
	)
	m.KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "topic"},
	)
	m.KafkaMessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "kafka_messages_consumed_total", Help: "Total number of Kafka messages received"},
		[]string{"service", "topic"},
	)
	m.KafkaMessagesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "kafka_messages_settled_total", Help: "Messages settled by disposition and dead-letter reason"},
		[]string{"service", "disposition", "reason"},
	)

	m.BlobOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "blob_operations_total", Help: "Total number of blob store operations"},
		[]string{"service", "operation", "status"},
	)
	m.BlobOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "blob_operation_duration_seconds",
			Help:      "Blob store operation duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "operation"},
	)

	m.LabelUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "label_uploads_total", Help: "Label upload saga outcomes by failing step"},
		[]string{"service", "outcome", "step"},
	)
	m.LabelProcessing = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "label_processing_duration_seconds",
			Help:      "Worker handling time per message",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 3, 5, 10, 30},
		},
		[]string{"service", "disposition"},
	)
	m.ShipmentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "shipments_created_total",
			Help:        "Total number of shipments created",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)
	m.InboxDuplicateHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "inbox_duplicate_messages_total",
			Help:        "Messages skipped because the inbox already settled them",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: ns, Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)"},
		[]string{"service", "name"},
	)
	m.CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "circuit_breaker_trips_total", Help: "Total number of circuit breaker trips"},
		[]string{"service", "name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.KafkaMessagesPublished, m.KafkaPublishDuration, m.KafkaMessagesConsumed, m.KafkaMessagesSettled,
		m.BlobOperations, m.BlobOperationDuration,
		m.LabelUploads, m.LabelProcessing, m.ShipmentsCreated, m.InboxDuplicateHits,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordKafkaPublish records a Kafka publish
func (m *Metrics) RecordKafkaPublish(topic string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.KafkaMessagesPublished.WithLabelValues(m.serviceName, topic, statusLabel(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordKafkaConsume records a received message
func (m *Metrics) RecordKafkaConsume(topic string) {
	if m == nil {
		return
	}
	m.KafkaMessagesConsumed.WithLabelValues(m.serviceName, topic).Inc()
}

// RecordMessageSettled records the disposition applied to a message
func (m *Metrics) RecordMessageSettled(disposition, reason string) {
	if m == nil {
		return
	}
	m.KafkaMessagesSettled.WithLabelValues(m.serviceName, disposition, reason).Inc()
}

// RecordBlobOperation records a blob store call
func (m *Metrics) RecordBlobOperation(operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.BlobOperations.WithLabelValues(m.serviceName, operation, statusLabel(success)).Inc()
	m.BlobOperationDuration.WithLabelValues(m.serviceName, operation).Observe(duration.Seconds())
}

// RecordLabelUpload records a saga outcome and the last step it reached.
func (m *Metrics) RecordLabelUpload(success bool, step string) {
	if m == nil {
		return
	}
	m.LabelUploads.WithLabelValues(m.serviceName, statusLabel(success), step).Inc()
}

// RecordLabelProcessing records worker handling time
func (m *Metrics) RecordLabelProcessing(disposition string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LabelProcessing.WithLabelValues(m.serviceName, disposition).Observe(duration.Seconds())
}

// RecordShipmentCreated records a shipment creation
func (m *Metrics) RecordShipmentCreated() {
	if m == nil {
		return
	}
	m.ShipmentsCreated.Inc()
}

// RecordInboxDuplicate records a message skipped by the inbox
func (m *Metrics) RecordInboxDuplicate() {
	if m == nil {
		return
	}
	m.InboxDuplicateHits.Inc()
}

// SetCircuitBreakerState sets circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
