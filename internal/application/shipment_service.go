package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/api"
	sharedErrors "github.com/wms-platform/shipment-service/pkg/errors"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/resilience"
	"github.com/wms-platform/shipment-service/pkg/validation"
)

const tracerName = "shipment-service/application"

// DefaultCompensationTimeout bounds the rollback and blob cleanup of a failed
// label upload.
const DefaultCompensationTimeout = 30 * time.Second

// ShipmentService handles shipment use cases
type ShipmentService struct {
	store     domain.ShipmentStore
	storage   domain.LabelStorage
	publisher domain.LabelPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics

	now                 func() time.Time
	compensationTimeout time.Duration
}

// Option configures a ShipmentService
type Option func(*ShipmentService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ShipmentService) { s.now = now }
}

// WithCompensationTimeout overrides DefaultCompensationTimeout.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *ShipmentService) { s.compensationTimeout = d }
}

// NewShipmentService creates a new ShipmentService. m may be nil.
func NewShipmentService(
	store domain.ShipmentStore,
	storage domain.LabelStorage,
	publisher domain.LabelPublisher,
	logger *logging.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *ShipmentService {
	s := &ShipmentService{
		store:               store,
		storage:             storage,
		publisher:           publisher,
		logger:              logger.WithComponent("shipment-service"),
		metrics:             m,
		now:                 time.Now,
		compensationTimeout: DefaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateShipment creates a new shipment in the Created state
func (s *ShipmentService) CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (*ShipmentDTO, error) {
	if appErr := validation.Struct(cmd, createShipmentMessages); appErr != nil {
		return nil, appErr
	}

	exists, err := s.store.ExistsByReference(ctx, cmd.ReferenceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check reference number: %w", err)
	}
	if exists {
		return nil, duplicateReference(cmd.ReferenceNumber)
	}

	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = logging.CorrelationIDFromContext(ctx)
	}
	shipment := domain.NewShipment(cmd.ReferenceNumber, cmd.SenderName, cmd.RecipientName, correlationID, s.now().UTC())

	if err := s.store.Create(ctx, shipment); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			return nil, duplicateReference(cmd.ReferenceNumber)
		}
		s.logger.WithError(err).Error("Failed to create shipment", "referenceNumber", cmd.ReferenceNumber)
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	s.metrics.RecordShipmentCreated()
	s.logger.WithCorrelationID(shipment.CorrelationID()).Info("Created shipment",
		"shipmentId", shipment.ID.String(),
		"referenceNumber", shipment.ReferenceNumber,
	)
	return ToShipmentDTO(shipment), nil
}

// GetShipment returns a shipment with its document and history
func (s *ShipmentService) GetShipment(ctx context.Context, query GetShipmentQuery) (*ShipmentDetailsDTO, error) {
	shipment, err := s.store.FindByID(ctx, query.ShipmentID)
	if err != nil {
		return nil, toAppError(err, query.ShipmentID)
	}
	return ToShipmentDetailsDTO(shipment), nil
}

// GetShipmentEvents returns the shipment's history, oldest first
func (s *ShipmentService) GetShipmentEvents(ctx context.Context, query GetShipmentQuery) ([]EventDTO, error) {
	events, err := s.store.Events(ctx, query.ShipmentID)
	if err != nil {
		return nil, toAppError(err, query.ShipmentID)
	}
	return ToEventDTOs(events), nil
}

// ListShipments returns a page of shipments, newest first
func (s *ShipmentService) ListShipments(ctx context.Context, query ListShipmentsQuery) (*ShipmentPage, error) {
	if appErr := validation.Struct(query, listShipmentsMessages); appErr != nil {
		return nil, appErr
	}

	filter := domain.ListFilter{
		Offset: query.Offset(),
		Limit:  query.PageSize,
	}
	if query.State != "" {
		state, ok := domain.ParseState(query.State)
		if !ok {
			return nil, sharedErrors.ErrValidationWithFields("validation failed", map[string]string{
				"state": "State must be one of: Created, LabelUploaded, LabelProcessed, Failed.",
			})
		}
		filter.State = state
	}

	shipments, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}

	dtos := make([]ShipmentDTO, 0, len(shipments))
	for _, shipment := range shipments {
		dtos = append(dtos, *ToShipmentDTO(shipment))
	}

	page := api.NewPageResponse(dtos, query.Page, query.PageSize, int64(total))
	return &page, nil
}

func duplicateReference(referenceNumber string) error {
	return sharedErrors.ErrConflict("a shipment with this reference number already exists").
		WithDetail("referenceNumber", referenceNumber).
		Wrap(domain.ErrDuplicateReference)
}

// toAppError maps domain and resilience errors to the closed set of
// application error codes. Other errors pass through unchanged.
func toAppError(err error, shipmentID uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrShipmentNotFound):
		return sharedErrors.ErrNotFoundWithID("shipment", shipmentID.String()).Wrap(err)
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrLabelAlreadyAttached),
		errors.Is(err, domain.ErrConcurrentModification):
		return sharedErrors.ErrInvalidState("").Wrap(err)
	case errors.Is(err, domain.ErrDuplicateReference):
		return sharedErrors.ErrConflict(err.Error()).Wrap(err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return sharedErrors.ErrServiceUnavailable("a dependency").Wrap(err)
	default:
		return err
	}
}
