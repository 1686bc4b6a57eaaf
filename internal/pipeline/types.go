// Package pipeline implements the per-recipient send pipeline: precheck
// against the shared throttle state, delivery parameter resolution, the
// attempt loop, throttled requeue and idempotent result recording, sequenced
// by Pipeline.Process.
//
// Domain outcomes travel as values. Only unexpected failures are returned as
// errors, after a fault record has been written, so the queue's redelivery
// and dead-letter policy can take over.
package pipeline

import (
	"context"
	"time"

	"courier/internal/types"
)

// Delivery is one received job plus the queue metadata the pipeline needs.
type Delivery struct {
	Job           types.SendJob
	MessageID     string
	ReceiptHandle string
	// DeliveryCount is the transport's receive count, starting at 1.
	DeliveryCount int
	EnqueuedAt    time.Time
}

// Disposition tells the consumer what happened to a delivery.
type Disposition string

const (
	// DispositionDeferred leaves the message on the queue; its visibility was
	// extended to the end of the throttle window.
	DispositionDeferred Disposition = "deferred"
	// DispositionRequeued means an equivalent job was re-published.
	DispositionRequeued Disposition = "requeued"
	// DispositionRecorded means a terminal result was written.
	DispositionRecorded Disposition = "recorded"
	// DispositionDiscarded is used for jobs that can never be processed.
	DispositionDiscarded Disposition = "discarded"
)

// Ack reports whether the consumer should delete the original message.
func (d Disposition) Ack() bool {
	return d != DispositionDeferred
}

// DeferMode selects what happens to a job the precheck declines.
type DeferMode string

const (
	DeferVisibility DeferMode = "visibility"
	DeferRequeue    DeferMode = "requeue"
)

// DeliveryParameters is everything a delivery attempt needs.
type DeliveryParameters struct {
	Content        types.NotificationContent
	ServiceURL     string
	ConversationID string
	RecipientID    string

	// ForceAbort is set when conversation creation was throttled. The job is
	// handled like a throttled send.
	ForceAbort bool

	// ConversationCreated is true when ConversationID came from a creation
	// call made during this resolution.
	ConversationCreated bool

	// CreationOutcome is the terminal outcome of a failed creation call. When
	// set no delivery attempt is made.
	CreationOutcome *types.DeliveryOutcome
}

// ThrottleState is the shared "do not send before" timestamp. Implementations
// must never move it backward.
type ThrottleState interface {
	RetryAfter(ctx context.Context) (time.Time, error)
	PushForward(ctx context.Context, until time.Time) error
}

// BotTransport is the messaging channel. An error means no HTTP status was
// obtained.
type BotTransport interface {
	CreateConversation(ctx context.Context, recipient types.RecipientDescriptor) (conversationID string, statusCode int, err error)
	SendMessage(ctx context.Context, serviceURL, conversationID string, content types.NotificationContent) (statusCode int, err error)
}

type NotificationStore interface {
	GetContent(ctx context.Context, notificationID string) (*types.NotificationContent, error)
}

type ConversationStore interface {
	Get(ctx context.Context, recipientID string) (string, error)
	Save(ctx context.Context, recipientID, conversationID, serviceURL string) error
}

type ResultStore interface {
	Upsert(ctx context.Context, res types.RecipientResult) error
}

// JobPublisher re-publishes a job to the send queue after delay.
type JobPublisher interface {
	Publish(ctx context.Context, job types.SendJob, delay time.Duration) error
}

// VisibilityExtender hides an in-flight message for wait.
type VisibilityExtender interface {
	ExtendVisibility(ctx context.Context, receiptHandle string, wait time.Duration) error
}

// Metric result labels.
const (
	MetricResultSucceeded         = "Succeeded"
	MetricResultFailed            = "Failed"
	MetricResultRecipientNotFound = "RecipientNotFound"
	MetricResultThrottled         = "Throttled"
	MetricResultDeferred          = "Deferred"
	MetricResultFaulted           = "Faulted"
	MetricResultDiscarded         = "Discarded"
)

// Throttle sources.
const (
	ThrottleSourceSend         = "send"
	ThrottleSourceConversation = "conversation"
)

// Metrics receives pipeline telemetry. Implementations must not block.
type Metrics interface {
	RecordOutcome(ctx context.Context, result string)
	RecordLatency(ctx context.Context, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
	RecordThrottled(ctx context.Context, source string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordOutcome(context.Context, string) {}
func (NopMetrics) RecordLatency(context.Context, time.Duration) {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration) {}
func (NopMetrics) RecordThrottled(context.Context, string) {}

// RetryPolicy is the backoff between attempts within one Send call.
type RetryPolicy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy keeps the whole attempt loop well inside a Lambda
// invocation.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:     500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry returns min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}
