package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/internal/contracts"
	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/internal/infrastructure/memory"
	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
)

var fixedNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type processorFixture struct {
	store     *memory.ShipmentStore
	storage   *memory.LabelStorage
	shipment  *domain.Shipment
	msg       domain.LabelUploadedMessage
	processed int
	labelErr  func() error
	config    *Config
}

// newProcessorFixture stores a shipment in LabelUploaded with a non-empty
// label blob.
func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	f := &processorFixture{
		store:   memory.NewShipmentStore(),
		storage: memory.NewLabelStorage(),
		config:  DefaultConfig(),
	}

	f.shipment = domain.NewShipment("REF-001", "Sender", "Recipient", "corr-1", fixedNow.Add(-time.Hour))
	blobName := domain.NewBlobName(f.shipment.ID, "label.pdf")
	_, err := f.shipment.AttachLabel(blobName, "application/pdf", 4, "corr-1", fixedNow.Add(-time.Minute))
	require.NoError(t, err)
	f.store.Put(f.shipment)
	f.storage.Put(blobName, []byte("%PDF"))

	f.msg = domain.LabelUploadedMessage{
		ShipmentID:    f.shipment.ID,
		BlobName:      blobName,
		CorrelationID: "corr-1",
		CreatedAt:     fixedNow.Add(-time.Minute),
	}
	return f
}

func (f *processorFixture) processor(t *testing.T) *Processor {
	t.Helper()

	validator, err := contracts.NewEventValidator()
	require.NoError(t, err)

	labels := labelProcessorFunc(func(ctx context.Context, _ domain.LabelUploadedMessage) error {
		f.processed++
		if f.labelErr != nil {
			return f.labelErr()
		}
		return nil
	})
	return NewProcessor(f.store, f.storage, validator, labels, f.config, logging.Nop(), nil,
		WithClock(func() time.Time { return fixedNow }))
}

func (f *processorFixture) process(t *testing.T, deliveryCount int) Outcome {
	t.Helper()
	return f.processor(t).Process(context.Background(), labelDelivery(t, f.msg, deliveryCount))
}

func (f *processorFixture) reload(t *testing.T) *domain.Shipment {
	t.Helper()
	s, err := f.store.FindByID(context.Background(), f.shipment.ID)
	require.NoError(t, err)
	return s
}

func (f *processorFixture) assertUnchanged(t *testing.T) {
	t.Helper()
	s := f.reload(t)
	assert.Equal(t, domain.StateLabelUploaded, s.State)
	assert.Len(t, s.Events, 2)
}

func (f *processorFixture) assertFailed(t *testing.T, payload string) {
	t.Helper()
	s := f.reload(t)
	assert.Equal(t, domain.StateFailed, s.State)
	require.Len(t, s.Events, 3)
	failed := s.Events[2]
	assert.Equal(t, domain.EventFailed, failed.EventCode)
	assert.Equal(t, payload, failed.Payload)
	assert.Equal(t, "corr-1", failed.CorrelationID)
	assert.Equal(t, fixedNow, failed.EventTime)
}

func TestProcess_Success(t *testing.T) {
	f := newProcessorFixture(t)

	out := f.process(t, 1)
	assert.Equal(t, DispositionComplete, out.Disposition)
	assert.Equal(t, 1, f.processed)

	s := f.reload(t)
	assert.Equal(t, domain.StateLabelProcessed, s.State)
	require.Len(t, s.Events, 3)
	assert.Equal(t, domain.EventLabelProcessed, s.Events[2].EventCode)
	assert.Equal(t, "corr-1", s.Events[2].CorrelationID)
	assert.Equal(t, fixedNow, s.UpdatedAt)
}

func TestProcess_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("not json")},
		{name: "missing blob name", body: []byte(`{"shipmentId":"` + uuid.NewString() + `","correlationId":"c","createdAt":"2026-06-01T10:00:00Z"}`)},
		{name: "shipment id not a uuid", body: []byte(`{"shipmentId":"S1","blobName":"b","correlationId":"c","createdAt":"2026-06-01T10:00:00Z"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t)

			out := f.processor(t).Process(context.Background(), &kafka.Delivery{MessageID: "m1", DeliveryCount: 1, Body: tt.body})
			assert.Equal(t, DispositionDeadLetter, out.Disposition)
			assert.Equal(t, ReasonInvalidPayload, out.Reason)
			assert.NotEmpty(t, out.Description)
			assert.Equal(t, 0, f.processed)
			f.assertUnchanged(t)
		})
	}
}

func TestProcess_ShipmentNotFound(t *testing.T) {
	f := newProcessorFixture(t)
	f.msg.ShipmentID = uuid.New()

	out := f.process(t, 1)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonShipmentNotFound, out.Reason)
	assert.Contains(t, out.Description, f.msg.ShipmentID.String())
}

func TestProcess_RedeliveryAfterProcessed(t *testing.T) {
	f := newProcessorFixture(t)
	require.Equal(t, DispositionComplete, f.process(t, 1).Disposition)

	out := f.process(t, 2)
	assert.Equal(t, DispositionComplete, out.Disposition)
	assert.Equal(t, 1, f.processed, "label must not be processed twice")
	assert.Len(t, f.reload(t).Events, 3)
}

func TestProcess_AlreadyFailed(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.shipment.Fail("earlier", "corr-1", fixedNow))
	f.store.Put(f.shipment)

	out := f.process(t, 1)
	assert.Equal(t, DispositionComplete, out.Disposition)
	assert.Equal(t, 0, f.processed)
	assert.Len(t, f.reload(t).Events, 3)
}

func TestProcess_StaleBlobName(t *testing.T) {
	f := newProcessorFixture(t)
	f.msg.BlobName = f.shipment.ID.String() + "/0123456789abcdef0123456789abcdef_old.pdf"

	out := f.process(t, 1)
	assert.Equal(t, DispositionComplete, out.Disposition)
	assert.Equal(t, 0, f.processed)
	f.assertUnchanged(t)
}

func TestProcess_EmptyBlob(t *testing.T) {
	f := newProcessorFixture(t)
	f.storage.Put(f.msg.BlobName, nil)

	out := f.process(t, 1)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonEmptyLabelBlob, out.Reason)
	assert.Equal(t, 0, f.processed)
	f.assertFailed(t, "Empty label file. BlobName: "+f.msg.BlobName)
}

func TestProcess_BlobErrorIsTerminal(t *testing.T) {
	f := newProcessorFixture(t)
	f.storage.DownloadErr = &domain.BlobError{
		Operation:  "download",
		BlobName:   f.msg.BlobName,
		StatusCode: 503,
		ErrorCode:  "SlowDown",
		Err:        errors.New("please reduce your request rate"),
	}

	// Even a throttling response on the first delivery is not retried.
	out := f.process(t, 1)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonBlobOperationFailed, out.Reason)
	f.assertFailed(t, "Blob error. Status: 503, ErrorCode: SlowDown, BlobName: "+f.msg.BlobName)
}

func TestProcess_MissingBlob(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.storage.DeleteIfExists(context.Background(), f.msg.BlobName))

	out := f.process(t, 1)
	assert.Equal(t, ReasonBlobOperationFailed, out.Reason)
	f.assertFailed(t, "Blob error. Status: 404, ErrorCode: NoSuchKey, BlobName: "+f.msg.BlobName)
}

func TestProcess_UnexpectedErrorRetriedBelowCeiling(t *testing.T) {
	f := newProcessorFixture(t)
	f.labelErr = func() error { return errors.New("label printer offline") }

	for count := 1; count < DefaultMaxDeliveryCount; count++ {
		out := f.process(t, count)
		assert.Equal(t, DispositionAbandon, out.Disposition, "delivery %d", count)
		f.assertUnchanged(t)
	}
}

func TestProcess_UnexpectedErrorAtCeiling(t *testing.T) {
	f := newProcessorFixture(t)
	f.labelErr = func() error { return errors.New("label printer offline") }

	out := f.process(t, DefaultMaxDeliveryCount)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonUnexpectedError, out.Reason)
	f.assertFailed(t, "Unexpected error: label printer offline")
}

func TestProcess_ConfiguredCeiling(t *testing.T) {
	f := newProcessorFixture(t)
	f.config = &Config{MaxDeliveryCount: 2, MessageTimeout: time.Minute}
	f.labelErr = func() error { return errors.New("boom") }

	assert.Equal(t, DispositionAbandon, f.process(t, 1).Disposition)
	assert.Equal(t, DispositionDeadLetter, f.process(t, 2).Disposition)
}

func TestProcess_PanicTreatedAsUnexpectedError(t *testing.T) {
	f := newProcessorFixture(t)
	f.labelErr = func() error { panic("nil label") }

	assert.Equal(t, DispositionAbandon, f.process(t, 1).Disposition)
	f.assertUnchanged(t)

	out := f.process(t, DefaultMaxDeliveryCount)
	assert.Equal(t, ReasonUnexpectedError, out.Reason)
	f.assertFailed(t, "Unexpected error: panic while processing label: nil label")
}

func TestProcess_MessageTimeout(t *testing.T) {
	f := newProcessorFixture(t)
	f.config = &Config{MaxDeliveryCount: DefaultMaxDeliveryCount, MessageTimeout: 20 * time.Millisecond}

	validator, err := contracts.NewEventValidator()
	require.NoError(t, err)
	p := NewProcessor(f.store, f.storage, validator, DelayProcessor{Delay: time.Minute}, f.config, logging.Nop(), nil,
		WithClock(func() time.Time { return fixedNow }))

	start := time.Now()
	out := p.Process(context.Background(), labelDelivery(t, f.msg, 1))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, DispositionAbandon, out.Disposition)
	assert.Contains(t, out.Description, context.DeadlineExceeded.Error())

	out = p.Process(context.Background(), labelDelivery(t, f.msg, DefaultMaxDeliveryCount))
	assert.Equal(t, ReasonUnexpectedError, out.Reason)
	assert.Equal(t, domain.StateFailed, f.reload(t).State)
}

func TestProcess_ShipmentStillCreated(t *testing.T) {
	f := newProcessorFixture(t)
	created := domain.NewShipment("REF-RACE", "a", "b", "corr-2", fixedNow)
	f.store.Put(created)
	f.msg.ShipmentID = created.ID
	f.msg.BlobName = domain.NewBlobName(created.ID, "label.pdf")

	assert.Equal(t, DispositionAbandon, f.process(t, 1).Disposition)

	out := f.process(t, DefaultMaxDeliveryCount)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonUnexpectedError, out.Reason)

	s, err := f.store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, s.State, "a shipment without a label is not failed")
	assert.Len(t, s.Events, 1)
}

func TestProcess_PersistFailureAbandons(t *testing.T) {
	f := newProcessorFixture(t)
	f.store.CommitErr = errors.New("connection lost")

	out := f.process(t, 1)
	assert.Equal(t, DispositionAbandon, out.Disposition)
	assert.Equal(t, reasonPersistFailed, out.Reason)
	f.assertUnchanged(t)
	assert.Equal(t, 1, f.store.Rollbacks())

	f.store.CommitErr = nil
	assert.Equal(t, DispositionComplete, f.process(t, 2).Disposition)
	assert.Equal(t, domain.StateLabelProcessed, f.reload(t).State)
}

func TestProcess_PersistFailureDeadLetteredAtCeiling(t *testing.T) {
	for _, count := range []int{DefaultMaxDeliveryCount, DefaultMaxDeliveryCount + 1, 50} {
		f := newProcessorFixture(t)
		f.store.CommitErr = errors.New("connection lost")

		out := f.process(t, count)
		assert.Equal(t, DispositionDeadLetter, out.Disposition, "delivery %d", count)
		assert.Equal(t, ReasonUnexpectedError, out.Reason, "delivery %d", count)
		assert.Contains(t, out.Description, "connection lost")
		f.assertUnchanged(t)
	}
}

func TestProcess_StoreUnavailable(t *testing.T) {
	f := newProcessorFixture(t)
	f.store.FindErr = errors.New("too many connections")

	out := f.process(t, 1)
	assert.Equal(t, DispositionAbandon, out.Disposition)
	assert.Equal(t, reasonRetry, out.Reason)

	out = f.process(t, DefaultMaxDeliveryCount)
	assert.Equal(t, DispositionDeadLetter, out.Disposition)
	assert.Equal(t, ReasonUnexpectedError, out.Reason)
	assert.Equal(t, "Unexpected error: failed to load shipment: too many connections", out.Description)
}

func TestDelayProcessor(t *testing.T) {
	msg := domain.LabelUploadedMessage{BlobName: "b"}

	t.Run("waits for the delay", func(t *testing.T) {
		start := time.Now()
		err := DelayProcessor{Delay: 20 * time.Millisecond}.ProcessLabel(context.Background(), msg, strings.NewReader("%PDF"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := DelayProcessor{Delay: time.Minute}.ProcessLabel(ctx, msg, strings.NewReader("%PDF"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
