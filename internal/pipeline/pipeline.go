package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier/internal/types"
)

// Stages are the collaborators Pipeline sequences.
type Stages struct {
	Precheck   *Precheck
	Resolver   *Resolver
	Sender     *Sender
	Delayer    *Delayer
	Recorder   *Recorder
	Visibility VisibilityExtender
}

// Options are the pipeline's tunables.
type Options struct {
	MaxAttempts int
	DeferMode   DeferMode
}

// Pipeline is the entry point for one received send job.
type Pipeline struct {
	stages  Stages
	opts    Options
	metrics Metrics
	clock   types.Clock
	logger  types.Logger
}

func NewPipeline(stages Stages, opts Options, metrics Metrics, clock types.Clock, logger types.Logger) *Pipeline {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if opts.DeferMode == "" {
		opts.DeferMode = DeferVisibility
	}
	return &Pipeline{stages: stages, opts: opts, metrics: metrics, clock: clock, logger: logger}
}

// Process runs one delivery to a disposition. A non-nil error means the job
// faulted: a Retrying or Faulted record has been written (when possible) and
// the message must be left for redelivery.
func (p *Pipeline) Process(ctx context.Context, d Delivery) (Disposition, error) {
	log := p.logger.With(
		"notification_id", d.Job.NotificationID,
		"recipient_id", d.Job.Recipient.RecipientID,
		"message_id", d.MessageID,
		"delivery_count", d.DeliveryCount,
	)
	ctx = types.WithLogger(ctx, log)

	if err := d.Job.Validate(); err != nil {
		log.Error("discarding invalid send job", "error", err.Error())
		p.metrics.RecordOutcome(ctx, MetricResultDiscarded)
		return DispositionDiscarded, nil
	}

	if !d.EnqueuedAt.IsZero() {
		p.metrics.RecordQueueLag(ctx, p.clock.Now().Sub(d.EnqueuedAt))
	}

	disposition, err := p.run(ctx, d, log)
	if err == nil {
		return disposition, nil
	}

	p.metrics.RecordOutcome(ctx, MetricResultFaulted)
	final := p.stages.Recorder.IsFinalDelivery(d.DeliveryCount)
	if recErr := p.stages.Recorder.RecordFault(ctx, d.Job, d.DeliveryCount, err); recErr != nil {
		log.Error("failed to record fault", "error", recErr.Error(), "cause", err.Error())
		return "", errors.Join(err, recErr)
	}
	log.Error("send job faulted",
		"error", err.Error(),
		"dead_lettered", final,
	)
	return "", err
}

func (p *Pipeline) run(ctx context.Context, d Delivery, log types.Logger) (Disposition, error) {
	ok, retryAfter, err := p.stages.Precheck.ShouldProcess(ctx, d.Job)
	if err != nil {
		return "", fmt.Errorf("precheck: %w", err)
	}
	if !ok {
		return p.deferJob(ctx, d, retryAfter, log)
	}

	params, err := p.stages.Resolver.ResolveParams(ctx, d.Job)
	if err != nil {
		return "", fmt.Errorf("resolve delivery parameters: %w", err)
	}

	if params.ForceAbort {
		log.Warn("conversation creation throttled, requeueing behind the shared window")
		p.metrics.RecordThrottled(ctx, ThrottleSourceConversation)
		p.metrics.RecordOutcome(ctx, MetricResultThrottled)
		if err := p.stages.Delayer.HandleThrottled(ctx, d.Job); err != nil {
			return "", err
		}
		return DispositionRequeued, nil
	}

	if params.CreationOutcome != nil {
		return p.record(ctx, d, *params.CreationOutcome, true, "", log)
	}

	start := p.clock.Now()
	outcome := p.stages.Sender.Send(ctx, params, p.opts.MaxAttempts)
	p.metrics.RecordLatency(ctx, p.clock.Now().Sub(start))

	if outcome.ResultType == types.ResultThrottled {
		log.Warn("send throttled, requeueing behind the shared window",
			"status_codes", outcome.StatusCodeTrail(),
		)
		p.metrics.RecordThrottled(ctx, ThrottleSourceSend)
		p.metrics.RecordOutcome(ctx, MetricResultThrottled)
		if err := p.stages.Delayer.HandleThrottled(ctx, d.Job); err != nil {
			return "", err
		}
		return DispositionRequeued, nil
	}

	conversationID := ""
	if params.ConversationCreated {
		conversationID = params.ConversationID
	}
	return p.record(ctx, d, outcome, false, conversationID, log)
}

func (p *Pipeline) record(ctx context.Context, d Delivery, outcome types.DeliveryOutcome, fromCreation bool, conversationID string, log types.Logger) (Disposition, error) {
	err := p.stages.Recorder.RecordResult(ctx, d.Job.NotificationID, d.Job.Recipient.RecipientID, outcome, fromCreation, conversationID)
	if err != nil {
		return "", fmt.Errorf("record result: %w", err)
	}
	p.metrics.RecordOutcome(ctx, string(outcome.ResultType))
	log.Info("send result recorded",
		"result", string(outcome.ResultType),
		"status_code", outcome.StatusCode,
		"status_codes", outcome.StatusCodeTrail(),
		"throttle_count", outcome.TotalThrottleCount,
		"from_conversation_creation", fromCreation,
	)
	return DispositionRecorded, nil
}

func (p *Pipeline) deferJob(ctx context.Context, d Delivery, retryAfter time.Time, log types.Logger) (Disposition, error) {
	wait := p.stages.Precheck.DeferFor(retryAfter)
	p.metrics.RecordOutcome(ctx, MetricResultDeferred)

	// Leaving the message unacked on its final receive would dead-letter it
	// with nothing recorded, so that delivery is requeued instead.
	if p.opts.DeferMode == DeferRequeue || p.stages.Recorder.IsFinalDelivery(d.DeliveryCount) {
		if err := p.stages.Delayer.Requeue(ctx, d.Job, wait); err != nil {
			return "", err
		}
		log.Info("send deferred by requeue", "retry_after", retryAfter, "wait", wait.String())
		return DispositionRequeued, nil
	}

	if err := p.stages.Visibility.ExtendVisibility(ctx, d.ReceiptHandle, wait); err != nil {
		return "", fmt.Errorf("defer job: %w", err)
	}
	log.Info("send deferred", "retry_after", retryAfter, "wait", wait.String())
	return DispositionDeferred, nil
}
