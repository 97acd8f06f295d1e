package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "app error passes through wrapping",
			err:        fmt.Errorf("upload: %w", ErrInvalidState("")),
			wantCode:   CodeInvalidState,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantCode:   CodeTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "cancelled",
			err:        context.Canceled,
			wantCode:   CodeRequestCancelled,
			wantStatus: 499,
		},
		{
			name:       "anything else is internal",
			err:        fmt.Errorf("boom"),
			wantCode:   CodeInternalError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := MapDomainError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantStatus, appErr.HTTPStatus)
		})
	}

	assert.Nil(t, MapDomainError(nil))
}

func TestInvalidStateDefaultMessage(t *testing.T) {
	err := ErrInvalidState("")
	assert.Equal(t, "invalid state for this operation", err.Message)
	assert.True(t, HasCode(fmt.Errorf("wrapped: %w", err), CodeInvalidState))
	assert.False(t, HasCode(err, CodeNotFound))
}

func TestValidationWithFields(t *testing.T) {
	err := ErrValidationWithFields("validation failed", map[string]string{"fileName": "Label file is required."})
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "Label file is required.", err.Details["fileName"])
}
