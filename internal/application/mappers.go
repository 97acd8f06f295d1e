package application

import "github.com/wms-platform/shipment-service/internal/domain"

// ToShipmentDTO converts a domain Shipment to ShipmentDTO
func ToShipmentDTO(shipment *domain.Shipment) *ShipmentDTO {
	if shipment == nil {
		return nil
	}

	return &ShipmentDTO{
		ID:              shipment.ID.String(),
		ReferenceNumber: shipment.ReferenceNumber,
		SenderName:      shipment.SenderName,
		RecipientName:   shipment.RecipientName,
		State:           string(shipment.State),
		CreatedAt:       shipment.CreatedAt,
		UpdatedAt:       shipment.UpdatedAt,
	}
}

// ToShipmentDetailsDTO converts a shipment with its history. Events are
// listed newest first.
func ToShipmentDetailsDTO(shipment *domain.Shipment) *ShipmentDetailsDTO {
	if shipment == nil {
		return nil
	}

	sorted := shipment.SortedEvents()
	events := make([]EventDTO, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		events = append(events, ToEventDTO(sorted[i]))
	}

	dto := &ShipmentDetailsDTO{
		ShipmentDTO: *ToShipmentDTO(shipment),
		Document:    ToDocumentDTO(shipment.Document),
		Events:      events,
	}
	if last, ok := shipment.LastEvent(); ok {
		dto.LastStatus = string(last.EventCode)
	}
	return dto
}

// ToEventDTO converts a domain ShipmentEvent to EventDTO
func ToEventDTO(e domain.ShipmentEvent) EventDTO {
	return EventDTO{
		ID:            e.ID.String(),
		EventCode:     string(e.EventCode),
		EventTime:     e.EventTime,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
	}
}

// ToEventDTOs converts events keeping their order
func ToEventDTOs(events []domain.ShipmentEvent) []EventDTO {
	dtos := make([]EventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, ToEventDTO(e))
	}
	return dtos
}

// ToDocumentDTO converts a domain ShipmentDocument to DocumentDTO
func ToDocumentDTO(doc *domain.ShipmentDocument) *DocumentDTO {
	if doc == nil {
		return nil
	}

	return &DocumentDTO{
		ID:          doc.ID.String(),
		BlobName:    doc.BlobName,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		UploadedAt:  doc.UploadedAt,
	}
}
