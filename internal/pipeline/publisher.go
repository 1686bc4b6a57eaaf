package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"courier/internal/types"
)

// SQS limits.
const (
	maxDelaySeconds      = 900
	maxVisibilitySeconds = 43200
)

// SQSAPI is the subset of *sqs.Client used by QueuePublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var (
	_ JobPublisher       = (*QueuePublisher)(nil)
	_ VisibilityExtender = (*QueuePublisher)(nil)
)

// QueuePublisher puts jobs back on the send queue and extends the visibility
// of in-flight messages.
type QueuePublisher struct {
	client   SQSAPI
	queueURL string
	logger   types.Logger
}

func NewQueuePublisher(client SQSAPI, queueURL string, logger types.Logger) *QueuePublisher {
	return &QueuePublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish sends job unchanged with DelaySeconds = delay, clamped to [0, 900].
func (p *QueuePublisher) Publish(ctx context.Context, job types.SendJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue publisher: failed to marshal job: %w", err)
	}

	delaySec := clampSeconds(delay, maxDelaySeconds)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send message to %s", p.queueURL), err)
	}

	p.logger.Info("send job requeued",
		"notification_id", job.NotificationID,
		"recipient_id", job.Recipient.RecipientID,
		"delay_seconds", delaySec,
	)
	return nil
}

// ExtendVisibility hides the message for wait, rounded up to whole seconds.
func (p *QueuePublisher) ExtendVisibility(ctx context.Context, receiptHandle string, wait time.Duration) error {
	secs := int32(math.Ceil(wait.Seconds()))
	if secs > maxVisibilitySeconds {
		secs = maxVisibilitySeconds
	}
	if secs < 0 {
		secs = 0
	}
	_, err := p.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(p.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: secs,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to change message visibility", err)
	}
	return nil
}

func clampSeconds(d time.Duration, limit int32) int32 {
	s := int32(d.Seconds())
	if s > limit {
		return limit
	}
	if s < 0 {
		return 0
	}
	return s
}
