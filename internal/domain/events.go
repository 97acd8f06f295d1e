package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventCode tags a lifecycle transition in the shipment's event log
type EventCode string

const (
	EventCreated        EventCode = "CREATED"
	EventLabelUploaded  EventCode = "LABEL_UPLOADED"
	EventLabelProcessed EventCode = "LABEL_PROCESSED"
	EventFailed         EventCode = "FAILED"
)

// ShipmentEvent is an immutable audit record of one transition.
type ShipmentEvent struct {
	ID            uuid.UUID
	ShipmentID    uuid.UUID
	EventCode     EventCode
	EventTime     time.Time
	Payload       string
	CorrelationID string
}

// ShipmentDocument is the metadata of an uploaded label.
type ShipmentDocument struct {
	ID          uuid.UUID
	ShipmentID  uuid.UUID
	BlobName    string
	ContentType string
	Size        int64
	UploadedAt  time.Time
}
