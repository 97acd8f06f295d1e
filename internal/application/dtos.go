package application

import (
	"time"

	"github.com/wms-platform/shipment-service/pkg/api"
)

// ShipmentDTO represents a shipment in responses
type ShipmentDTO struct {
	ID              string    `json:"id"`
	ReferenceNumber string    `json:"referenceNumber"`
	SenderName      string    `json:"senderName"`
	RecipientName   string    `json:"recipientName"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ShipmentDetailsDTO is a shipment with its document and history, newest
// event first.
type ShipmentDetailsDTO struct {
	ShipmentDTO
	LastStatus string       `json:"lastStatus,omitempty"`
	Document   *DocumentDTO `json:"document,omitempty"`
	Events     []EventDTO   `json:"events"`
}

// EventDTO represents one lifecycle event
type EventDTO struct {
	ID            string    `json:"id"`
	EventCode     string    `json:"eventCode"`
	EventTime     time.Time `json:"eventTime"`
	Payload       string    `json:"payload,omitempty"`
	CorrelationID string    `json:"correlationId"`
}

// DocumentDTO represents the uploaded label metadata
type DocumentDTO struct {
	ID          string    `json:"id"`
	BlobName    string    `json:"blobName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// UploadLabelResultDTO is returned once a label is attached
type UploadLabelResultDTO struct {
	DocumentID string `json:"documentId"`
}

// ShipmentPage is a page of shipments
type ShipmentPage = api.PageResponse[ShipmentDTO]
