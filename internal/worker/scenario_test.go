package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/internal/application"
	"github.com/wms-platform/shipment-service/internal/contracts"
	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/internal/infrastructure/memory"
	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	sharedTesting "github.com/wms-platform/shipment-service/pkg/testing"
)

// labelFlow wires the upload saga to the worker through an in-memory queue.
type labelFlow struct {
	store    *memory.ShipmentStore
	storage  *memory.LabelStorage
	queue    *fakeReceiver
	service  *application.ShipmentService
	runner   *Runner
	shipment *application.ShipmentDTO
}

func newLabelFlow(t *testing.T) *labelFlow {
	t.Helper()

	f := &labelFlow{
		store:   memory.NewShipmentStore(),
		storage: memory.NewLabelStorage(),
		queue:   &fakeReceiver{},
	}

	publisher := memory.NewLabelPublisher()
	publisher.OnPublish = func(msg domain.LabelUploadedMessage) {
		body, err := json.Marshal(msg)
		require.NoError(t, err)
		f.queue.enqueue(&kafka.Delivery{
			MessageID:     uuid.NewString(),
			CorrelationID: msg.CorrelationID,
			Type:          "shipping.label.uploaded",
			DeliveryCount: 1,
			Body:          body,
		})
	}
	f.service = application.NewShipmentService(f.store, f.storage, publisher, logging.Nop(), nil)

	validator, err := contracts.NewEventValidator()
	require.NoError(t, err)
	processor := NewProcessor(f.store, f.storage, validator, DelayProcessor{Delay: 10 * time.Millisecond}, nil, logging.Nop(), nil)
	f.runner = NewRunner(f.queue, processor, logging.Nop(), nil)

	f.shipment, err = f.service.CreateShipment(context.Background(), application.CreateShipmentCommand{
		ReferenceNumber: "REF-001",
		SenderName:      "ACME Fulfilment",
		RecipientName:   "Jane Roe",
	})
	require.NoError(t, err)
	return f
}

func (f *labelFlow) upload(t *testing.T, content []byte) {
	t.Helper()

	_, err := f.service.UploadLabel(context.Background(), application.UploadLabelCommand{
		ShipmentID: uuid.MustParse(f.shipment.ID),
		FileName:   "label.pdf",
		File:       bytes.NewReader(content),
		FileSize:   int64(len(content)),
	})
	require.NoError(t, err)

	details, err := f.service.GetShipment(context.Background(), application.GetShipmentQuery{ShipmentID: uuid.MustParse(f.shipment.ID)})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StateLabelUploaded), details.State)
}

// drain runs the worker until the queue has settled want messages.
func (f *labelFlow) drain(t *testing.T, want int) []settlement {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	sharedTesting.AssertEventually(t, func() bool { return len(f.queue.Settled()) >= want }, 5*time.Second,
		"worker did not settle the label message")
	cancel()
	require.NoError(t, <-done)
	return f.queue.Settled()
}

func (f *labelFlow) details(t *testing.T) *application.ShipmentDetailsDTO {
	t.Helper()
	details, err := f.service.GetShipment(context.Background(), application.GetShipmentQuery{ShipmentID: uuid.MustParse(f.shipment.ID)})
	require.NoError(t, err)
	return details
}

func TestScenario_LabelUploadedAndProcessed(t *testing.T) {
	f := newLabelFlow(t)
	f.upload(t, []byte("%PDF-1.7 label"))

	settled := f.drain(t, 1)
	require.Len(t, settled, 1)
	assert.Equal(t, DispositionComplete, settled[0].Disposition)

	details := f.details(t)
	assert.Equal(t, string(domain.StateLabelProcessed), details.State)
	assert.Equal(t, string(domain.EventLabelProcessed), details.LastStatus)
	require.Len(t, details.Events, 3)
	assert.Equal(t, string(domain.EventLabelProcessed), details.Events[0].EventCode)
	assert.Equal(t, string(domain.EventLabelUploaded), details.Events[1].EventCode)
	assert.Equal(t, string(domain.EventCreated), details.Events[2].EventCode)
	for _, e := range details.Events {
		assert.Equal(t, details.Events[2].CorrelationID, e.CorrelationID, "one correlation id across the flow")
	}
}

func TestScenario_EmptyLabelDeadLettered(t *testing.T) {
	f := newLabelFlow(t)
	f.upload(t, []byte{})

	settled := f.drain(t, 1)
	require.Len(t, settled, 1)
	assert.Equal(t, DispositionDeadLetter, settled[0].Disposition)
	assert.Equal(t, ReasonEmptyLabelBlob, settled[0].Reason)

	details := f.details(t)
	assert.Equal(t, string(domain.StateFailed), details.State)
	require.NotNil(t, details.Document)

	var failed []application.EventDTO
	for _, e := range details.Events {
		if e.EventCode == string(domain.EventFailed) {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload, details.Document.BlobName)
}
