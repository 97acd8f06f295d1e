package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wms-platform/shipment-service/internal/domain"
	sharedErrors "github.com/wms-platform/shipment-service/pkg/errors"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/tracing"
	"github.com/wms-platform/shipment-service/pkg/validation"
)

// Saga steps, used as log and metric labels.
const (
	stepValidate = "validate"
	stepLoad     = "load"
	stepUpload   = "upload"
	stepBegin    = "begin"
	stepAttach   = "attach"
	stepSave     = "save"
	stepPublish  = "publish"
	stepCommit   = "commit"
	stepDone     = "done"
)

// UploadLabel stores the label file, records it on the shipment and queues it
// for processing. The blob is written first; the relational changes are
// staged, the event is published and only then is the transaction committed.
// Any failure after the upload rolls back the transaction and deletes the
// blob before the error is returned.
func (s *ShipmentService) UploadLabel(ctx context.Context, cmd UploadLabelCommand) (documentID uuid.UUID, err error) {
	step := stepValidate
	ctx, span := tracing.StartSpan(ctx, tracerName, "shipment.upload_label",
		tracing.ShipmentAttributes(cmd.ShipmentID.String(), "")...)
	defer func() {
		s.metrics.RecordLabelUpload(err == nil, step)
		tracing.EndSpan(span, err)
	}()

	if appErr := validation.Struct(cmd, uploadLabelMessages); appErr != nil {
		return uuid.Nil, appErr
	}

	step = stepLoad
	shipment, err := s.store.FindByID(ctx, cmd.ShipmentID)
	if err != nil {
		return uuid.Nil, toAppError(err, cmd.ShipmentID)
	}
	if shipment.State != domain.StateCreated {
		return uuid.Nil, sharedErrors.ErrInvalidState("").
			WithDetail("state", string(shipment.State))
	}

	correlationID := shipment.CorrelationID()
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	span.SetAttributes(tracing.ShipmentAttributes(shipment.ID.String(), correlationID)...)

	// Cancellation before the upload leaves no side effects behind.
	if err = ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	contentType := cmd.ContentType
	if contentType == "" {
		contentType = domain.LabelContentType(cmd.FileName)
	}
	blobName := domain.NewBlobName(shipment.ID, cmd.FileName)
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"shipmentId": shipment.ID.String(),
		"blobName":   blobName,
	})

	step = stepUpload
	if err = s.storage.Upload(ctx, blobName, cmd.File, cmd.FileSize, contentType); err != nil {
		s.logger.SagaStep(ctx, step, err)
		// The object may have been partially written.
		s.deleteBlob(ctx, log, blobName)
		return uuid.Nil, toAppError(fmt.Errorf("failed to upload label: %w", err), shipment.ID)
	}
	s.logger.SagaStep(ctx, step, nil)

	var tx domain.ShipmentTx
	defer func() {
		if err != nil {
			s.logger.SagaStep(ctx, step, err)
			s.compensate(ctx, log, tx, blobName)
			err = toAppError(err, shipment.ID)
		}
	}()

	step = stepBegin
	tx, err = s.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	step = stepAttach
	now := s.now().UTC()
	var doc *domain.ShipmentDocument
	doc, err = shipment.AttachLabel(blobName, contentType, cmd.FileSize, correlationID, now)
	if err != nil {
		return uuid.Nil, err
	}

	step = stepSave
	if err = tx.Save(ctx, shipment); err != nil {
		return uuid.Nil, err
	}

	step = stepPublish
	err = s.publisher.PublishLabelUploaded(ctx, domain.LabelUploadedMessage{
		ShipmentID:    shipment.ID,
		BlobName:      blobName,
		CorrelationID: correlationID,
		CreatedAt:     now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish label uploaded message: %w", err)
	}

	step = stepCommit
	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit label upload: %w", err)
	}

	step = stepDone
	log.Info("Label uploaded", "documentId", doc.ID.String())
	return doc.ID, nil
}

// compensate undoes the staged saga work. It runs detached from the request
// so that a cancelled request is still cleaned up.
func (s *ShipmentService) compensate(ctx context.Context, log *logging.Logger, tx domain.ShipmentTx, blobName string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	if tx != nil {
		if err := tx.Rollback(cctx); err != nil {
			log.WithError(err).Error("Failed to roll back label upload")
		}
	}
	s.deleteBlob(cctx, log, blobName)
}

func (s *ShipmentService) deleteBlob(ctx context.Context, log *logging.Logger, blobName string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	if err := s.storage.DeleteIfExists(cctx, blobName); err != nil {
		log.WithError(err).Error("Failed to delete orphaned label blob")
		return
	}
	log.Warn("Deleted orphaned label blob")
}
