package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wms-platform/shipment-service/internal/application"
	pkgapi "github.com/wms-platform/shipment-service/pkg/api"
	sharedErrors "github.com/wms-platform/shipment-service/pkg/errors"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/middleware"
)

// DefaultMaxLabelBytes caps the multipart label upload body.
const DefaultMaxLabelBytes int64 = 10 << 20

// ShipmentUseCases is the application surface served over HTTP.
type ShipmentUseCases interface {
	CreateShipment(ctx context.Context, cmd application.CreateShipmentCommand) (*application.ShipmentDTO, error)
	GetShipment(ctx context.Context, query application.GetShipmentQuery) (*application.ShipmentDetailsDTO, error)
	GetShipmentEvents(ctx context.Context, query application.GetShipmentQuery) ([]application.EventDTO, error)
	ListShipments(ctx context.Context, query application.ListShipmentsQuery) (*application.ShipmentPage, error)
	UploadLabel(ctx context.Context, cmd application.UploadLabelCommand) (uuid.UUID, error)
}

// ShipmentHandler serves the shipment routes.
type ShipmentHandler struct {
	service       ShipmentUseCases
	logger        *logging.Logger
	maxLabelBytes int64
}

// NewShipmentHandler creates a handler. A non-positive maxLabelBytes uses
// DefaultMaxLabelBytes.
func NewShipmentHandler(service ShipmentUseCases, logger *logging.Logger, maxLabelBytes int64) *ShipmentHandler {
	if maxLabelBytes <= 0 {
		maxLabelBytes = DefaultMaxLabelBytes
	}
	return &ShipmentHandler{
		service:       service,
		logger:        logger.WithComponent("http"),
		maxLabelBytes: maxLabelBytes,
	}
}

// RegisterRoutes mounts the handler under /api/v1/shipments.
func (h *ShipmentHandler) RegisterRoutes(router gin.IRouter) {
	shipments := router.Group("/api/v1/shipments")
	{
		shipments.POST("", h.createShipment)
		shipments.GET("", h.listShipments)
		shipments.GET("/:shipmentId", h.getShipment)
		shipments.GET("/:shipmentId/events", h.getShipmentEvents)
		shipments.POST("/:shipmentId/label", h.uploadLabel)
	}
}

func (h *ShipmentHandler) createShipment(c *gin.Context) {
	var cmd application.CreateShipmentCommand
	if appErr := middleware.BindJSON(c, &cmd); appErr != nil {
		_ = c.Error(appErr)
		return
	}

	shipment, err := h.service.CreateShipment(c.Request.Context(), cmd)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, shipment)
}

func (h *ShipmentHandler) listShipments(c *gin.Context) {
	query := application.ListShipmentsQuery{PageRequest: pkgapi.DefaultPageRequest()}
	if appErr := middleware.BindQuery(c, &query); appErr != nil {
		_ = c.Error(appErr)
		return
	}

	page, err := h.service.ListShipments(c.Request.Context(), query)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *ShipmentHandler) getShipment(c *gin.Context) {
	id, ok := shipmentID(c)
	if !ok {
		return
	}

	shipment, err := h.service.GetShipment(c.Request.Context(), application.GetShipmentQuery{ShipmentID: id})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, shipment)
}

func (h *ShipmentHandler) getShipmentEvents(c *gin.Context) {
	id, ok := shipmentID(c)
	if !ok {
		return
	}

	events, err := h.service.GetShipmentEvents(c.Request.Context(), application.GetShipmentQuery{ShipmentID: id})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, events)
}

func (h *ShipmentHandler) uploadLabel(c *gin.Context) {
	id, ok := shipmentID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxLabelBytes)

	cmd := application.UploadLabelCommand{ShipmentID: id}
	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		file, err := fileHeader.Open()
		if err != nil {
			_ = c.Error(fmt.Errorf("failed to open uploaded label: %w", err))
			return
		}
		defer file.Close()

		cmd.FileName = fileHeader.Filename
		cmd.ContentType = fileHeader.Header.Get("Content-Type")
		cmd.File = file
		cmd.FileSize = fileHeader.Size
	case errors.Is(err, http.ErrMissingFile):
		// Validation reports the missing file together with any other problem.
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || c.Request.ContentLength > h.maxLabelBytes {
			_ = c.Error(sharedErrors.ErrValidationWithFields("validation failed", map[string]string{
				"file": fmt.Sprintf("Label file must be at most %d bytes.", h.maxLabelBytes),
			}))
			return
		}
		_ = c.Error(sharedErrors.ErrBadRequest("invalid multipart form: " + err.Error()))
		return
	}

	documentID, err := h.service.UploadLabel(c.Request.Context(), cmd)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.WithContext(c.Request.Context()).Info("Label accepted",
		"shipmentId", id.String(),
		"documentId", documentID.String(),
	)
	c.JSON(http.StatusCreated, application.UploadLabelResultDTO{DocumentID: documentID.String()})
}

func shipmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("shipmentId"))
	if err != nil {
		_ = c.Error(sharedErrors.ErrValidationWithFields("validation failed", map[string]string{
			"shipmentId": "ShipmentId must be a valid UUID.",
		}))
		return uuid.Nil, false
	}
	return id, true
}
