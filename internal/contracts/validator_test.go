package contracts

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/cloudevents"
)

func TestEventValidator_LoadsEmbeddedSpec(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)
	assert.True(t, v.HasSchema(cloudevents.LabelUploaded))
	assert.False(t, v.HasSchema("shipping.unknown"))
}

func TestDecodeLabelUploaded(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	want := domain.LabelUploadedMessage{
		ShipmentID:    uuid.New(),
		BlobName:      "s/t_label.pdf",
		CorrelationID: "corr-1",
		CreatedAt:     time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := v.DecodeLabelUploaded(payload)
	require.NoError(t, err)
	assert.Equal(t, want.ShipmentID, got.ShipmentID)
	assert.Equal(t, want.BlobName, got.BlobName)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestDecodeLabelUploaded_Rejects(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{"shipmentId":`},
		{name: "null", payload: `null`},
		{name: "missing blob name", payload: `{"shipmentId":"5f0c6a52-8f3e-4a47-9e3b-0f8f6c1d2a11","correlationId":"c","createdAt":"2026-05-01T08:00:00Z"}`},
		{name: "bad uuid", payload: `{"shipmentId":"S1","blobName":"b","correlationId":"c","createdAt":"2026-05-01T08:00:00Z"}`},
		{name: "bad timestamp", payload: `{"shipmentId":"5f0c6a52-8f3e-4a47-9e3b-0f8f6c1d2a11","blobName":"b","correlationId":"c","createdAt":"yesterday"}`},
		{name: "empty blob name", payload: `{"shipmentId":"5f0c6a52-8f3e-4a47-9e3b-0f8f6c1d2a11","blobName":"","correlationId":"c","createdAt":"2026-05-01T08:00:00Z"}`},
		{
			name: "correlation id too long",
			payload: `{"shipmentId":"5f0c6a52-8f3e-4a47-9e3b-0f8f6c1d2a11","blobName":"b","correlationId":"` +
				strings.Repeat("c", 101) + `","createdAt":"2026-05-01T08:00:00Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.DecodeLabelUploaded([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}
