package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/shipment-service/pkg/kafka"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/resilience"
)

func fixedOutcome(out Outcome, calls *int32) Handler {
	return handlerFunc(func(context.Context, *kafka.Delivery) Outcome {
		atomic.AddInt32(calls, 1)
		return out
	})
}

func TestRunner_SettlesEachDisposition(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    settlement
	}{
		{
			name:    "complete",
			outcome: complete(""),
			want:    settlement{MessageID: "m1", Disposition: DispositionComplete, DeliveryCount: 1},
		},
		{
			name:    "abandon",
			outcome: abandon(reasonRetry, errors.New("later")),
			want:    settlement{MessageID: "m1", Disposition: DispositionAbandon, DeliveryCount: 1},
		},
		{
			name:    "dead letter",
			outcome: deadLetter(ReasonEmptyLabelBlob, "Empty label file. BlobName: b"),
			want: settlement{
				MessageID:     "m1",
				Disposition:   DispositionDeadLetter,
				Reason:        ReasonEmptyLabelBlob,
				Description:   "Empty label file. BlobName: b",
				DeliveryCount: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receiver := &fakeReceiver{}
			receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})

			var calls int32
			runner := NewRunner(receiver, fixedOutcome(tt.outcome, &calls), logging.Nop(), nil)
			require.NoError(t, runner.poll(context.Background()))

			settled := receiver.Settled()
			require.Len(t, settled, 1)
			assert.Equal(t, tt.want, settled[0])
			assert.Equal(t, int32(1), calls)
		})
	}
}

func TestRunner_InboxRecordsTerminalSettlements(t *testing.T) {
	inbox := new(mockInbox)
	inbox.On("IsProcessed", mock.Anything, mock.Anything).Return(false, nil)
	inbox.On("MarkProcessed", mock.Anything, "m-complete", "complete", "").Return(nil).Once()
	inbox.On("MarkProcessed", mock.Anything, "m-dlq", "deadletter", ReasonInvalidPayload).Return(nil).Once()

	receiver := &fakeReceiver{}
	receiver.enqueue(&kafka.Delivery{MessageID: "m-complete", DeliveryCount: 1})
	receiver.enqueue(&kafka.Delivery{MessageID: "m-dlq", DeliveryCount: 1})
	receiver.enqueue(&kafka.Delivery{MessageID: "m-abandon", DeliveryCount: 1})

	outcomes := map[string]Outcome{
		"m-complete": complete(""),
		"m-dlq":      deadLetter(ReasonInvalidPayload, "bad"),
		"m-abandon":  abandon(reasonRetry, nil),
	}
	handler := handlerFunc(func(_ context.Context, d *kafka.Delivery) Outcome {
		return outcomes[d.MessageID]
	})

	runner := NewRunner(receiver, handler, logging.Nop(), nil, WithInbox(inbox))
	for i := 0; i < 3; i++ {
		require.NoError(t, runner.poll(context.Background()))
	}

	inbox.AssertExpectations(t)
	inbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, "m-abandon", mock.Anything, mock.Anything)
}

func TestRunner_InboxDuplicateSkipsProcessing(t *testing.T) {
	inbox := new(mockInbox)
	inbox.On("IsProcessed", mock.Anything, "m1").Return(true, nil)

	receiver := &fakeReceiver{}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 2})

	var calls int32
	runner := NewRunner(receiver, fixedOutcome(complete(""), &calls), logging.Nop(), nil, WithInbox(inbox))
	require.NoError(t, runner.poll(context.Background()))

	assert.Equal(t, int32(0), calls)
	settled := receiver.Settled()
	require.Len(t, settled, 1)
	assert.Equal(t, DispositionComplete, settled[0].Disposition)
	inbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_InboxLookupFailureStillProcesses(t *testing.T) {
	inbox := new(mockInbox)
	inbox.On("IsProcessed", mock.Anything, "m1").Return(false, errors.New("mongo down"))
	inbox.On("MarkProcessed", mock.Anything, "m1", "complete", "").Return(errors.New("mongo down"))

	receiver := &fakeReceiver{}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})

	var calls int32
	runner := NewRunner(receiver, fixedOutcome(complete(""), &calls), logging.Nop(), nil, WithInbox(inbox))
	require.NoError(t, runner.poll(context.Background()))

	assert.Equal(t, int32(1), calls)
	assert.Len(t, receiver.Settled(), 1)
	inbox.AssertExpectations(t)
}

func TestRunner_CommitFailureStillRecorded(t *testing.T) {
	inbox := new(mockInbox)
	inbox.On("IsProcessed", mock.Anything, "m1").Return(false, nil)
	inbox.On("MarkProcessed", mock.Anything, "m1", "deadletter", ReasonUnexpectedError).Return(nil).Once()

	receiver := &fakeReceiver{SettleErr: fmt.Errorf("%w for message m1: broker gone", kafka.ErrCommitFailed)}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 5})

	var calls int32
	runner := NewRunner(receiver, fixedOutcome(deadLetter(ReasonUnexpectedError, "x"), &calls), logging.Nop(), nil, WithInbox(inbox))
	require.NoError(t, runner.poll(context.Background()))

	inbox.AssertExpectations(t)
}

func TestRunner_SettleFailureNotRecorded(t *testing.T) {
	inbox := new(mockInbox)
	inbox.On("IsProcessed", mock.Anything, "m1").Return(false, nil)

	receiver := &fakeReceiver{SettleErr: errors.New("dlq write failed")}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})

	var calls int32
	runner := NewRunner(receiver, fixedOutcome(deadLetter(ReasonInvalidPayload, "x"), &calls), logging.Nop(), nil,
		WithInbox(inbox), WithSettleBackoff(resilience.NewBackoff(time.Millisecond, time.Millisecond, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := runner.poll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq write failed")

	assert.Equal(t, int32(1), calls)
	assert.Empty(t, receiver.Settled())
	inbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_RetriesSettlementBeforeNextMessage(t *testing.T) {
	receiver := &fakeReceiver{}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})
	receiver.enqueue(&kafka.Delivery{MessageID: "m2", DeliveryCount: 1})
	receiver.failSettle(errors.New("circuit breaker is open"), errors.New("circuit breaker is open"))

	handled := map[string]int{}
	handler := handlerFunc(func(_ context.Context, d *kafka.Delivery) Outcome {
		handled[d.MessageID]++
		if d.MessageID == "m1" && d.DeliveryCount == 1 {
			return abandon(reasonRetry, errors.New("later"))
		}
		return complete("")
	})

	runner := NewRunner(receiver, handler, logging.Nop(), nil,
		WithSettleBackoff(resilience.NewBackoff(time.Millisecond, time.Millisecond, 1)))
	for i := 0; i < 3; i++ {
		require.NoError(t, runner.poll(context.Background()))
	}

	settled := receiver.Settled()
	require.Len(t, settled, 3)
	assert.Equal(t, settlement{MessageID: "m1", Disposition: DispositionAbandon, DeliveryCount: 1}, settled[0])
	assert.Equal(t, settlement{MessageID: "m2", Disposition: DispositionComplete, DeliveryCount: 1}, settled[1])
	assert.Equal(t, settlement{MessageID: "m1", Disposition: DispositionComplete, DeliveryCount: 2}, settled[2])
	assert.Equal(t, map[string]int{"m1": 2, "m2": 1}, handled)
}

func TestRunner_SettlesAfterCancellation(t *testing.T) {
	receiver := &fakeReceiver{}
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	handler := handlerFunc(func(ctx context.Context, _ *kafka.Delivery) Outcome {
		cancel()
		return abandon(reasonRetry, ctx.Err())
	})

	runner := NewRunner(receiver, handler, logging.Nop(), nil)
	require.NoError(t, runner.poll(ctx))

	settled := receiver.Settled()
	require.Len(t, settled, 1)
	assert.Equal(t, DispositionAbandon, settled[0].Disposition)
}

func TestRunner_RunBacksOffOnReceiveErrors(t *testing.T) {
	receiver := &fakeReceiver{}
	receiver.failReceive(errors.New("broker unreachable"), errors.New("broker unreachable"))
	receiver.enqueue(&kafka.Delivery{MessageID: "m1", DeliveryCount: 1})

	var calls int32
	runner := NewRunner(receiver, fixedOutcome(complete(""), &calls), logging.Nop(), nil,
		WithReceiveBackoff(resilience.NewBackoff(time.Millisecond, 5*time.Millisecond, 2)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(receiver.Settled()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
