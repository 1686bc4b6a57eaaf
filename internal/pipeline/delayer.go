package pipeline

import (
	"context"
	"fmt"
	"time"

	"courier/internal/types"
)

// Delayer handles throttled jobs: it moves the shared window forward and puts
// the job back on the queue behind it. It never writes a result.
type Delayer struct {
	state      ThrottleState
	publisher  JobPublisher
	clock      types.Clock
	retryDelay time.Duration
}

func NewDelayer(state ThrottleState, publisher JobPublisher, clock types.Clock, retryDelay time.Duration) *Delayer {
	return &Delayer{state: state, publisher: publisher, clock: clock, retryDelay: retryDelay}
}

// HandleThrottled pushes the throttle state to now+retryDelay, then
// re-publishes job with the same delay. The push comes first so concurrent
// senders back off even if publishing fails.
func (d *Delayer) HandleThrottled(ctx context.Context, job types.SendJob) error {
	if err := d.state.PushForward(ctx, d.clock.Now().Add(d.retryDelay)); err != nil {
		return fmt.Errorf("push throttle state: %w", err)
	}
	if err := d.publisher.Publish(ctx, job, d.retryDelay); err != nil {
		return fmt.Errorf("requeue throttled job: %w", err)
	}
	return nil
}

// Requeue re-publishes job after delay without touching the throttle state.
func (d *Delayer) Requeue(ctx context.Context, job types.SendJob, delay time.Duration) error {
	if err := d.publisher.Publish(ctx, job, delay); err != nil {
		return fmt.Errorf("requeue deferred job: %w", err)
	}
	return nil
}
