package domain

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ListFilter selects a page of shipments, newest first.
type ListFilter struct {
	State  State
	Offset int
	Limit  int
}

// ShipmentStore is the relational store of shipment aggregates
type ShipmentStore interface {
	// FindByID returns the shipment with its events and document, or
	// ErrShipmentNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*Shipment, error)
	ExistsByReference(ctx context.Context, referenceNumber string) (bool, error)
	// Create inserts a new shipment together with its pending events.
	Create(ctx context.Context, shipment *Shipment) error
	List(ctx context.Context, filter ListFilter) ([]*Shipment, int, error)
	Events(ctx context.Context, shipmentID uuid.UUID) ([]ShipmentEvent, error)
	Begin(ctx context.Context) (ShipmentTx, error)
}

// ShipmentTx is a single relational transaction.
type ShipmentTx interface {
	// Save writes the shipment row, its pending events and a pending
	// document. The update only applies if the stored state still equals
	// PersistedState, otherwise ErrConcurrentModification is returned.
	Save(ctx context.Context, shipment *Shipment) error
	Commit(ctx context.Context) error
	// Rollback is a no-op on an already finished transaction.
	Rollback(ctx context.Context) error
}

// LabelStorage stores label files.
type LabelStorage interface {
	Upload(ctx context.Context, name string, content io.Reader, size int64, contentType string) error
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	DeleteIfExists(ctx context.Context, name string) error
}

// LabelUploadedMessage is the payload published once a label is attached.
type LabelUploadedMessage struct {
	ShipmentID    uuid.UUID `json:"shipmentId"`
	BlobName      string    `json:"blobName"`
	CorrelationID string    `json:"correlationId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LabelPublisher publishes label events to the processing queue.
type LabelPublisher interface {
	PublishLabelUploaded(ctx context.Context, msg LabelUploadedMessage) error
}
