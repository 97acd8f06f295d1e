package cloudevents

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by the shipment service
const (
	LabelUploaded = "shipping.label.uploaded"
)

// SourceShipmentService is the CloudEvents source of this service.
const SourceShipmentService = "/shipping/shipment-service"

// Event is a CloudEvents v1.0 event carried in binary content mode: the
// attributes travel as transport headers and Data is the raw payload.
type Event struct {
	SpecVersion     string
	Type            string
	Source          string
	Subject         string
	ID              string
	Time            time.Time
	DataContentType string
	Data            []byte

	// Extensions
	CorrelationID string
	DeliveryCount int
}

// EventFactory creates events for a fixed source
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// NewJSONEvent creates a first-delivery event with a fresh id.
func (f *EventFactory) NewJSONEvent(eventType, subject, correlationID string, data []byte) *Event {
	return &Event{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.NewString(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
		CorrelationID:   correlationID,
		DeliveryCount:   1,
	}
}
