package worker

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/kafka"
)

type settlement struct {
	MessageID     string
	Disposition   Disposition
	Reason        string
	Description   string
	DeliveryCount int
}

// fakeReceiver is a queue with the settlement semantics of kafka.Consumer:
// Abandon re-enqueues with an incremented delivery count.
type fakeReceiver struct {
	mu          sync.Mutex
	queue       []*kafka.Delivery
	receiveErrs []error
	settleErrs  []error
	settled     []settlement

	SettleErr error
}

func (r *fakeReceiver) enqueue(d *kafka.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, d)
}

func (r *fakeReceiver) failReceive(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiveErrs = append(r.receiveErrs, errs...)
}

// failSettle makes the next settlements fail with errs, one per call.
func (r *fakeReceiver) failSettle(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleErrs = append(r.settleErrs, errs...)
}

func (r *fakeReceiver) Receive(ctx context.Context) (*kafka.Delivery, error) {
	for {
		r.mu.Lock()
		if len(r.receiveErrs) > 0 {
			err := r.receiveErrs[0]
			r.receiveErrs = r.receiveErrs[1:]
			r.mu.Unlock()
			return nil, err
		}
		if len(r.queue) > 0 {
			d := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return d, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReceiver) record(d *kafka.Delivery, disposition Disposition, reason, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.settleErrs) > 0 {
		err := r.settleErrs[0]
		r.settleErrs = r.settleErrs[1:]
		return err
	}
	if r.SettleErr != nil {
		return r.SettleErr
	}
	r.settled = append(r.settled, settlement{
		MessageID:     d.MessageID,
		Disposition:   disposition,
		Reason:        reason,
		Description:   description,
		DeliveryCount: d.DeliveryCount,
	})
	return nil
}

func (r *fakeReceiver) Complete(_ context.Context, d *kafka.Delivery) error {
	return r.record(d, DispositionComplete, "", "")
}

func (r *fakeReceiver) Abandon(_ context.Context, d *kafka.Delivery) error {
	if err := r.record(d, DispositionAbandon, "", ""); err != nil {
		return err
	}
	redelivery := *d
	redelivery.DeliveryCount++
	r.enqueue(&redelivery)
	return nil
}

func (r *fakeReceiver) DeadLetter(_ context.Context, d *kafka.Delivery, reason, description string) error {
	return r.record(d, DispositionDeadLetter, reason, description)
}

func (r *fakeReceiver) Settled() []settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]settlement(nil), r.settled...)
}

type mockInbox struct {
	mock.Mock
}

func (m *mockInbox) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *mockInbox) MarkProcessed(ctx context.Context, messageID, disposition, reason string) error {
	args := m.Called(ctx, messageID, disposition, reason)
	return args.Error(0)
}

type handlerFunc func(ctx context.Context, d *kafka.Delivery) Outcome

func (f handlerFunc) Process(ctx context.Context, d *kafka.Delivery) Outcome {
	return f(ctx, d)
}

type labelProcessorFunc func(ctx context.Context, msg domain.LabelUploadedMessage) error

func (f labelProcessorFunc) ProcessLabel(ctx context.Context, msg domain.LabelUploadedMessage, _ io.Reader) error {
	return f(ctx, msg)
}

func labelDelivery(t *testing.T, msg domain.LabelUploadedMessage, deliveryCount int) *kafka.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return &kafka.Delivery{
		MessageID:     uuid.NewString(),
		CorrelationID: msg.CorrelationID,
		Type:          "shipping.label.uploaded",
		DeliveryCount: deliveryCount,
		Body:          body,
	}
}
