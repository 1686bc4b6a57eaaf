package pipeline

import (
	"context"

	"courier/internal/types"
)

// Recorder writes per-recipient results. Every write replaces the previous
// row for the pair, so replays converge on the same record.
type Recorder struct {
	store               ResultStore
	clock               types.Clock
	deadLetterThreshold int
}

// NewRecorder takes the dead-letter threshold, which must match the queue's
// maxReceiveCount.
func NewRecorder(store ResultStore, clock types.Clock, deadLetterThreshold int) *Recorder {
	return &Recorder{store: store, clock: clock, deadLetterThreshold: deadLetterThreshold}
}

// RecordResult stores a terminal outcome. conversationID may be empty.
func (r *Recorder) RecordResult(
	ctx context.Context,
	notificationID, recipientID string,
	outcome types.DeliveryOutcome,
	isFromConversationCreation bool,
	conversationID string,
) error {
	return r.store.Upsert(ctx, types.RecipientResult{
		NotificationID:             notificationID,
		RecipientID:                recipientID,
		DeliveryStatus:             outcome.DeliveryStatus(),
		StatusCode:                 outcome.StatusCode,
		AllStatusCodes:             outcome.StatusCodeTrail(),
		TotalThrottleCount:         outcome.TotalThrottleCount,
		IsFromConversationCreation: isFromConversationCreation,
		ErrorMessage:               outcome.ErrorMessage,
		ConversationID:             conversationID,
		UpdatedAt:                  r.clock.Now(),
	})
}

// RecordFault stores an unexpected failure. Below the threshold the job will
// be redelivered and is marked Retrying; at or above it the queue
// dead-letters the job and it is marked Faulted.
func (r *Recorder) RecordFault(ctx context.Context, job types.SendJob, deliveryCount int, cause error) error {
	res := types.RecipientResult{
		NotificationID: job.NotificationID,
		RecipientID:    job.Recipient.RecipientID,
		DeliveryStatus: types.DeliveryStatusRetrying,
		StatusCode:     types.StatusCodeFaultedAndRetrying,
		UpdatedAt:      r.clock.Now(),
	}
	if r.IsFinalDelivery(deliveryCount) {
		res.DeliveryStatus = types.DeliveryStatusFaulted
		res.StatusCode = types.StatusCodeFinalFaulted
	}
	if cause != nil {
		res.ErrorMessage = cause.Error()
	}
	return r.store.Upsert(ctx, res)
}

// IsFinalDelivery reports whether a failure on this delivery sends the job to
// the dead-letter queue.
func (r *Recorder) IsFinalDelivery(deliveryCount int) bool {
	return deliveryCount >= r.deadLetterThreshold
}
