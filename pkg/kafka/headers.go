package kafka

import (
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wms-platform/shipment-service/pkg/cloudevents"
)

// Header keys. CloudEvents attributes use the binary-mode "ce-" prefix.
const (
	HeaderSpecVersion           = "ce-specversion"
	HeaderType                  = "ce-type"
	HeaderSource                = "ce-source"
	HeaderID                    = "ce-id"
	HeaderTime                  = "ce-time"
	HeaderSubject               = "ce-subject"
	HeaderContentType           = "content-type"
	HeaderCorrelationID         = "ce-correlationid"
	HeaderDeliveryCount         = "ce-deliverycount"
	HeaderDeadLetterReason      = "ce-deadletterreason"
	HeaderDeadLetterDescription = "ce-deadletterdescription"
)

func eventHeaders(event *cloudevents.Event) []kafka.Header {
	headers := []kafka.Header{
		{Key: HeaderSpecVersion, Value: []byte(event.SpecVersion)},
		{Key: HeaderType, Value: []byte(event.Type)},
		{Key: HeaderSource, Value: []byte(event.Source)},
		{Key: HeaderID, Value: []byte(event.ID)},
		{Key: HeaderTime, Value: []byte(event.Time.Format(time.RFC3339Nano))},
		{Key: HeaderContentType, Value: []byte(event.DataContentType)},
		{Key: HeaderDeliveryCount, Value: []byte(strconv.Itoa(max(event.DeliveryCount, 1)))},
	}
	if event.Subject != "" {
		headers = append(headers, kafka.Header{Key: HeaderSubject, Value: []byte(event.Subject)})
	}
	if event.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(event.CorrelationID)})
	}
	return headers
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// withHeader returns a copy of headers with key set to value.
func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}

// headerCarrier adapts message headers to an OpenTelemetry TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	return headerValue(*c.headers, key)
}

func (c headerCarrier) Set(key, value string) {
	*c.headers = withHeader(*c.headers, key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
