package memory

import (
	"context"
	"sync"

	"github.com/wms-platform/shipment-service/internal/domain"
)

// LabelPublisher records published messages.
type LabelPublisher struct {
	mu        sync.Mutex
	published []domain.LabelUploadedMessage

	PublishErr error
	// OnPublish, if set, runs for every successfully published message.
	OnPublish func(msg domain.LabelUploadedMessage)
}

func NewLabelPublisher() *LabelPublisher {
	return &LabelPublisher{}
}

func (p *LabelPublisher) PublishLabelUploaded(ctx context.Context, msg domain.LabelUploadedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.PublishErr != nil {
		p.mu.Unlock()
		return p.PublishErr
	}
	p.published = append(p.published, msg)
	hook := p.OnPublish
	p.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

// Published returns the messages published so far.
func (p *LabelPublisher) Published() []domain.LabelUploadedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LabelUploadedMessage(nil), p.published...)
}
