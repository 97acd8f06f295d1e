package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/cloudevents"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event *cloudevents.Event) error
}

// LabelPublisher implements domain.LabelPublisher on a Kafka topic.
type LabelPublisher struct {
	producer EventPublisher
	factory  *cloudevents.EventFactory
	topic    string
}

func NewLabelPublisher(producer EventPublisher, factory *cloudevents.EventFactory, topic string) *LabelPublisher {
	return &LabelPublisher{producer: producer, factory: factory, topic: topic}
}

// PublishLabelUploaded sends the message keyed by shipment id, so redeliveries
// for one shipment stay on one partition.
func (p *LabelPublisher) PublishLabelUploaded(ctx context.Context, msg domain.LabelUploadedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode label uploaded message: %w", err)
	}

	shipmentID := msg.ShipmentID.String()
	event := p.factory.NewJSONEvent(cloudevents.LabelUploaded, shipmentID, msg.CorrelationID, data)
	return p.producer.Publish(ctx, p.topic, shipmentID, event)
}
