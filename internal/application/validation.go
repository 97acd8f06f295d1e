package application

import (
	"github.com/go-playground/validator/v10"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/validation"
)

func init() {
	_ = validation.Get().RegisterValidation("labelfile", func(fl validator.FieldLevel) bool {
		return domain.IsAllowedLabelFile(fl.Field().String())
	})
}

var uploadLabelMessages = validation.Messages{
	"shipmentId.required": "ShipmentId is required.",
	"fileName.required":   "Label file is required.",
	"fileName.labelfile":  "Only PDF and JPG files are allowed.",
}

var createShipmentMessages = validation.Messages{
	"referenceNumber.required": "Reference number is required.",
	"referenceNumber.max":      "Reference number must be at most 50 characters.",
	"senderName.required":      "Sender name is required.",
	"senderName.max":           "Sender name must be at most 200 characters.",
	"recipientName.required":   "Recipient name is required.",
	"recipientName.max":        "Recipient name must be at most 200 characters.",
}

var listShipmentsMessages = validation.Messages{
	"page.min":     "Page must be at least 1.",
	"pageSize.min": "Page size must be between 1 and 100.",
	"pageSize.max": "Page size must be between 1 and 100.",
}
