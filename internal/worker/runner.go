package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/resilience"
)

// Receiver is a queue with explicit settlement.
type Receiver interface {
	Receive(ctx context.Context) (*kafka.Delivery, error)
	Complete(ctx context.Context, d *kafka.Delivery) error
	Abandon(ctx context.Context, d *kafka.Delivery) error
	DeadLetter(ctx context.Context, d *kafka.Delivery, reason, description string) error
}

// Inbox remembers settled message ids across redeliveries.
type Inbox interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, disposition, reason string) error
}

// Handler decides the outcome of a delivery.
type Handler interface {
	Process(ctx context.Context, d *kafka.Delivery) Outcome
}

const settleTimeout = 30 * time.Second

// Runner is the single-concurrency receive, process, settle loop.
type Runner struct {
	receiver      Receiver
	handler       Handler
	inbox         Inbox
	backoff       *resilience.Backoff
	settleBackoff *resilience.Backoff
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithInbox enables duplicate detection through inbox.
func WithInbox(inbox Inbox) RunnerOption {
	return func(r *Runner) { r.inbox = inbox }
}

// WithReceiveBackoff overrides the delay applied after a failed receive.
func WithReceiveBackoff(b *resilience.Backoff) RunnerOption {
	return func(r *Runner) { r.backoff = b }
}

// WithSettleBackoff overrides the delay applied between settlement attempts.
func WithSettleBackoff(b *resilience.Backoff) RunnerOption {
	return func(r *Runner) { r.settleBackoff = b }
}

// NewRunner creates a Runner. m may be nil.
func NewRunner(receiver Receiver, handler Handler, logger *logging.Logger, m *metrics.Metrics, opts ...RunnerOption) *Runner {
	r := &Runner{
		receiver:      receiver,
		handler:       handler,
		backoff:       resilience.NewBackoff(resilience.DefaultRetryInitialDelay, resilience.DefaultRetryMaxDelay, resilience.DefaultRetryBackoffFactor),
		settleBackoff: resilience.NewBackoff(resilience.DefaultRetryInitialDelay, resilience.DefaultRetryMaxDelay, resilience.DefaultRetryBackoffFactor),
		logger:        logger.WithComponent("label-worker"),
		metrics:       m,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes messages one at a time until ctx is cancelled. The message in
// flight at cancellation is still settled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Label worker started")
	defer r.logger.Info("Label worker stopped")

	for ctx.Err() == nil {
		if err := r.poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.WithError(err).Error("Failed to receive message")
			if werr := r.backoff.Wait(ctx); werr != nil {
				break
			}
			continue
		}
		r.backoff.Reset()
	}
	return nil
}

// poll receives and settles a single message. It returns receive errors, and
// the settle error when ctx ends before the message could be settled.
func (r *Runner) poll(ctx context.Context) error {
	d, err := r.receiver.Receive(ctx)
	if err != nil {
		return err
	}

	if d.CorrelationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, d.CorrelationID)
	}

	if r.alreadySettled(ctx, d) {
		r.metrics.RecordInboxDuplicate()
		return r.settle(ctx, d, complete(reasonDuplicate), false)
	}

	out := r.handler.Process(ctx, d)
	return r.settle(ctx, d, out, true)
}

func (r *Runner) alreadySettled(ctx context.Context, d *kafka.Delivery) bool {
	if r.inbox == nil {
		return false
	}
	done, err := r.inbox.IsProcessed(ctx, d.MessageID)
	if err != nil {
		// The shipment state gate still catches redeliveries.
		r.logger.WithContext(ctx).WithError(err).Warn("Inbox lookup failed", "messageId", d.MessageID)
		return false
	}
	return done
}

// settle applies out to the delivery, retrying until it succeeds or ctx ends.
// The next message is not received before this returns: a later offset commit
// would move the partition past an unsettled message.
// Each attempt runs detached from ctx so that a shutdown does not cut off the
// settlement of the in-flight message.
func (r *Runner) settle(ctx context.Context, d *kafka.Delivery, out Outcome, record bool) error {
	if out.Disposition != DispositionComplete && out.Disposition != DispositionDeadLetter {
		out.Disposition = DispositionAbandon
	}

	r.settleBackoff.Reset()
	for {
		err := r.trySettle(ctx, d, out)
		if err == nil || errors.Is(err, kafka.ErrCommitFailed) {
			if err != nil {
				// The settlement took effect; only the offset will be redelivered.
				r.logger.WithContext(ctx).WithError(err).Warn("Message settled without offset commit", "messageId", d.MessageID)
			}
			r.settled(ctx, d, out, record)
			return nil
		}

		r.logger.WithContext(ctx).WithError(err).Error("Failed to settle message",
			"messageId", d.MessageID,
			"disposition", string(out.Disposition),
		)
		if werr := r.settleBackoff.Wait(ctx); werr != nil {
			return fmt.Errorf("message %s left unsettled: %w", d.MessageID, err)
		}
	}
}

func (r *Runner) trySettle(ctx context.Context, d *kafka.Delivery, out Outcome) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	switch out.Disposition {
	case DispositionComplete:
		return r.receiver.Complete(sctx, d)
	case DispositionDeadLetter:
		return r.receiver.DeadLetter(sctx, d, out.Reason, out.Description)
	default:
		return r.receiver.Abandon(sctx, d)
	}
}

func (r *Runner) settled(ctx context.Context, d *kafka.Delivery, out Outcome, record bool) {
	r.metrics.RecordMessageSettled(string(out.Disposition), out.Reason)
	r.logger.MessageSettled(ctx, d.MessageID, string(out.Disposition), out.Reason, d.DeliveryCount)

	if !record || r.inbox == nil || out.Disposition == DispositionAbandon {
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := r.inbox.MarkProcessed(sctx, d.MessageID, string(out.Disposition), out.Reason); err != nil {
		r.logger.WithContext(sctx).WithError(err).Warn("Failed to record settled message", "messageId", d.MessageID)
	}
}
