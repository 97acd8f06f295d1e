package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/tracing"
)

const tracerName = "shipment-service/worker"

// Defaults for Config.
const (
	DefaultMaxDeliveryCount = 5
	DefaultMessageTimeout   = 5 * time.Minute
)

var (
	errEmptyLabel        = errors.New("label blob is empty")
	errLabelNotCommitted = errors.New("shipment has no committed label yet")
)

// persistError marks a failure to store a decided outcome. Below the retry
// ceiling the message is abandoned so the next delivery decides again.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return "failed to persist shipment: " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// PayloadDecoder validates and decodes a message body.
type PayloadDecoder interface {
	DecodeLabelUploaded(payload []byte) (domain.LabelUploadedMessage, error)
}

// Config holds processor settings
type Config struct {
	// MaxDeliveryCount is the delivery at which an unexpected error stops
	// being retried.
	MaxDeliveryCount int
	// MessageTimeout bounds a single processing attempt.
	MessageTimeout time.Duration
}

// DefaultConfig returns a Config with the default retry ceiling.
func DefaultConfig() *Config {
	return &Config{
		MaxDeliveryCount: DefaultMaxDeliveryCount,
		MessageTimeout:   DefaultMessageTimeout,
	}
}

// Processor decides the outcome of one label uploaded message and applies
// its effect on the shipment before the message is settled.
type Processor struct {
	store   domain.ShipmentStore
	storage domain.LabelStorage
	decoder PayloadDecoder
	labels  LabelProcessor
	config  *Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor. config and m may be nil.
func NewProcessor(
	store domain.ShipmentStore,
	storage domain.LabelStorage,
	decoder PayloadDecoder,
	labels LabelProcessor,
	config *Config,
	logger *logging.Logger,
	m *metrics.Metrics,
	opts ...ProcessorOption,
) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxDeliveryCount < 1 {
		config.MaxDeliveryCount = DefaultMaxDeliveryCount
	}

	p := &Processor{
		store:   store,
		storage: storage,
		decoder: decoder,
		labels:  labels,
		config:  config,
		logger:  logger.WithComponent("label-processor"),
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one delivery. It never panics and never returns an error:
// every failure is folded into the returned Outcome.
func (p *Processor) Process(ctx context.Context, d *kafka.Delivery) (out Outcome) {
	start := time.Now()
	ctx, span := tracing.StartSpan(d.Context(ctx), tracerName, "label.process",
		attribute.String("messaging.message.id", d.MessageID),
		attribute.Int("messaging.delivery_count", d.DeliveryCount),
	)
	defer func() {
		p.metrics.RecordLabelProcessing(string(out.Disposition), time.Since(start))
		var spanErr error
		if out.Disposition != DispositionComplete {
			spanErr = fmt.Errorf("%s: %s", out.Disposition, out.Reason)
		}
		tracing.EndSpan(span, spanErr)
	}()

	msg, err := p.decoder.DecodeLabelUploaded(d.Body)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Rejected label message", "messageId", d.MessageID)
		return deadLetter(ReasonInvalidPayload, err.Error())
	}

	ctx = logging.ContextWithCorrelationID(ctx, msg.CorrelationID)
	span.SetAttributes(tracing.ShipmentAttributes(msg.ShipmentID.String(), msg.CorrelationID)...)
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"messageId":  d.MessageID,
		"shipmentId": msg.ShipmentID.String(),
		"blobName":   msg.BlobName,
	})

	out, err = p.attempt(ctx, msg)
	if err == nil {
		return out
	}

	if d.DeliveryCount < p.config.MaxDeliveryCount {
		var pe *persistError
		if errors.As(err, &pe) {
			log.WithError(err).Error("Failed to persist label outcome, will retry", "deliveryCount", d.DeliveryCount)
			return abandon(reasonPersistFailed, err)
		}
		log.WithError(err).Warn("Label processing failed, will retry", "deliveryCount", d.DeliveryCount)
		return abandon(reasonRetry, err)
	}
	return p.giveUp(ctx, log, msg, err)
}

// attempt runs one bounded processing attempt. A nil error means the outcome
// is decided; any error is unexpected.
func (p *Processor) attempt(ctx context.Context, msg domain.LabelUploadedMessage) (out Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.MessageTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Panic(ctx, r)
			out, err = Outcome{}, fmt.Errorf("panic while processing label: %v", r)
		}
	}()

	shipment, err := p.store.FindByID(ctx, msg.ShipmentID)
	if errors.Is(err, domain.ErrShipmentNotFound) {
		return deadLetter(ReasonShipmentNotFound, fmt.Sprintf("Shipment %s not found", msg.ShipmentID)), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load shipment: %w", err)
	}

	switch {
	case shipment.HasEvent(domain.EventLabelProcessed), shipment.State == domain.StateFailed:
		return complete(reasonAlreadySettled), nil
	case shipment.State == domain.StateCreated:
		return Outcome{}, errLabelNotCommitted
	case shipment.Document == nil || shipment.Document.BlobName != msg.BlobName:
		return complete(reasonStaleMessage), nil
	}

	err = p.processLabel(ctx, msg)
	if blobErr, ok := domain.AsBlobError(err); ok {
		payload := fmt.Sprintf("Blob error. Status: %d, ErrorCode: %s, BlobName: %s",
			blobErr.StatusCode, blobErr.ErrorCode, msg.BlobName)
		return p.fail(ctx, shipment, msg, payload, ReasonBlobOperationFailed)
	}
	if errors.Is(err, errEmptyLabel) {
		return p.fail(ctx, shipment, msg, "Empty label file. BlobName: "+msg.BlobName, ReasonEmptyLabelBlob)
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := shipment.MarkLabelProcessed(msg.CorrelationID, p.now().UTC()); err != nil {
		return Outcome{}, err
	}
	if err := p.persist(ctx, shipment); err != nil {
		return Outcome{}, err
	}
	p.logger.WithContext(ctx).Info("Label processed", "shipmentId", shipment.ID.String())
	return complete(""), nil
}

func (p *Processor) processLabel(ctx context.Context, msg domain.LabelUploadedMessage) error {
	rc, err := p.storage.Download(ctx, msg.BlobName)
	if err != nil {
		return fmt.Errorf("failed to download label: %w", err)
	}
	defer rc.Close()

	var first [1]byte
	n, err := io.ReadAtLeast(rc, first[:], 1)
	if errors.Is(err, io.EOF) {
		return errEmptyLabel
	}
	if err != nil {
		return fmt.Errorf("failed to read label: %w", err)
	}

	return p.labels.ProcessLabel(ctx, msg, io.MultiReader(bytes.NewReader(first[:n]), rc))
}

// fail moves the shipment to Failed and dead-letters the message.
func (p *Processor) fail(ctx context.Context, shipment *domain.Shipment, msg domain.LabelUploadedMessage, payload, reason string) (Outcome, error) {
	if err := shipment.Fail(payload, msg.CorrelationID, p.now().UTC()); err != nil {
		return Outcome{}, err
	}
	if err := p.persist(ctx, shipment); err != nil {
		return Outcome{}, err
	}
	p.logger.WithContext(ctx).Warn("Label processing failed", "shipmentId", shipment.ID.String(), "reason", reason)
	return deadLetter(reason, payload), nil
}

// giveUp handles an error on the last allowed delivery. The shipment is
// reloaded since the failed attempt may have left it anywhere. The message is
// dead-lettered even when the FAILED event cannot be stored.
func (p *Processor) giveUp(ctx context.Context, log *logging.Logger, msg domain.LabelUploadedMessage, cause error) Outcome {
	payload := fmt.Sprintf("Unexpected error: %v", cause)
	log.WithError(cause).Error("Label processing failed on last delivery")

	ctx, cancel := context.WithTimeout(ctx, p.config.MessageTimeout)
	defer cancel()

	shipment, err := p.store.FindByID(ctx, msg.ShipmentID)
	switch {
	case errors.Is(err, domain.ErrShipmentNotFound):
		return deadLetter(ReasonShipmentNotFound, fmt.Sprintf("Shipment %s not found", msg.ShipmentID))
	case err != nil:
		log.WithError(err).Error("Failed to reload shipment, dead-lettering without a FAILED event")
		return deadLetter(ReasonUnexpectedError, payload)
	case shipment.State.IsTerminal():
		return complete(reasonAlreadySettled)
	case shipment.State == domain.StateCreated:
		// No label was ever committed, there is nothing to fail.
		return deadLetter(ReasonUnexpectedError, payload)
	}

	out, err := p.fail(ctx, shipment, msg, payload, ReasonUnexpectedError)
	if err != nil {
		log.WithError(err).Error("Failed to persist FAILED event, dead-lettering anyway")
		return deadLetter(ReasonUnexpectedError, payload)
	}
	return out
}

// persist writes the shipment's pending changes in one transaction.
func (p *Processor) persist(ctx context.Context, shipment *domain.Shipment) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return &persistError{err: err}
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := tx.Save(ctx, shipment); err != nil {
		return &persistError{err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &persistError{err: err}
	}
	return nil
}
