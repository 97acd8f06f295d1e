package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/cloudevents"
)

type recordingPublisher struct {
	topic string
	key   string
	event *cloudevents.Event
	err   error
}

func (r *recordingPublisher) Publish(_ context.Context, topic, key string, event *cloudevents.Event) error {
	r.topic, r.key, r.event = topic, key, event
	return r.err
}

func TestLabelPublisher_PublishLabelUploaded(t *testing.T) {
	rec := &recordingPublisher{}
	pub := NewLabelPublisher(rec, cloudevents.NewEventFactory(cloudevents.SourceShipmentService), "shipping.labels.uploaded")

	msg := domain.LabelUploadedMessage{
		ShipmentID:    uuid.New(),
		BlobName:      "a/b_label.pdf",
		CorrelationID: "corr-9",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, pub.PublishLabelUploaded(context.Background(), msg))

	assert.Equal(t, "shipping.labels.uploaded", rec.topic)
	assert.Equal(t, msg.ShipmentID.String(), rec.key)
	require.NotNil(t, rec.event)
	assert.Equal(t, cloudevents.LabelUploaded, rec.event.Type)
	assert.Equal(t, "corr-9", rec.event.CorrelationID)
	assert.Equal(t, 1, rec.event.DeliveryCount)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.event.Data, &body))
	assert.Equal(t, msg.ShipmentID.String(), body["shipmentId"])
	assert.Equal(t, "a/b_label.pdf", body["blobName"])
	assert.Equal(t, "corr-9", body["correlationId"])
	assert.Contains(t, body, "createdAt")
}

func TestLabelPublisher_PropagatesErrors(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("broker down")}
	pub := NewLabelPublisher(rec, cloudevents.NewEventFactory(cloudevents.SourceShipmentService), "t")

	err := pub.PublishLabelUploaded(context.Background(), domain.LabelUploadedMessage{ShipmentID: uuid.New()})
	assert.EqualError(t, err, "broker down")
}
