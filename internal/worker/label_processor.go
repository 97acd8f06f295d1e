package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wms-platform/shipment-service/internal/domain"
)

// LabelProcessor does the actual work on a downloaded, non-empty label.
type LabelProcessor interface {
	ProcessLabel(ctx context.Context, msg domain.LabelUploadedMessage, content io.Reader) error
}

// DelayProcessor reads the label and then waits for Delay, standing in for
// the downstream label handling.
type DelayProcessor struct {
	Delay time.Duration
}

func (p DelayProcessor) ProcessLabel(ctx context.Context, msg domain.LabelUploadedMessage, content io.Reader) error {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return fmt.Errorf("failed to read label %s: %w", msg.BlobName, err)
	}
	if p.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
