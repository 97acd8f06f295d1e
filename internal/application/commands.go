package application

import (
	"io"

	"github.com/google/uuid"

	"github.com/wms-platform/shipment-service/pkg/api"
)

// CreateShipmentCommand represents the command to create a new shipment
type CreateShipmentCommand struct {
	ReferenceNumber string `json:"referenceNumber" validate:"required,max=50"`
	SenderName      string `json:"senderName" validate:"required,max=200"`
	RecipientName   string `json:"recipientName" validate:"required,max=200"`
	// CorrelationID is optional; a new one is minted when empty.
	CorrelationID string `json:"-"`
}

// UploadLabelCommand represents the command to attach a label file to a shipment
type UploadLabelCommand struct {
	ShipmentID  uuid.UUID `json:"shipmentId" validate:"required"`
	FileName    string    `json:"fileName" validate:"required,labelfile"`
	ContentType string    `json:"contentType"`
	File        io.Reader `json:"-"`
	FileSize    int64     `json:"fileSize" validate:"gte=0"`
}

// GetShipmentQuery represents the query to get a shipment by ID
type GetShipmentQuery struct {
	ShipmentID uuid.UUID
}

// ListShipmentsQuery selects a page of shipments, newest first
type ListShipmentsQuery struct {
	api.PageRequest
	State string `form:"state" json:"state"`
}
