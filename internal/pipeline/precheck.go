package pipeline

import (
	"context"
	"time"

	"courier/internal/types"
)

// Precheck decides whether a job may be attempted now. It only reads the
// throttle state.
type Precheck struct {
	state      ThrottleState
	clock      types.Clock
	retryDelay time.Duration
}

func NewPrecheck(state ThrottleState, clock types.Clock, retryDelay time.Duration) *Precheck {
	return &Precheck{state: state, clock: clock, retryDelay: retryDelay}
}

// ShouldProcess returns false while the shared throttle window is open, along
// with the time the window closes.
func (p *Precheck) ShouldProcess(ctx context.Context, _ types.SendJob) (bool, time.Time, error) {
	retryAfter, err := p.state.RetryAfter(ctx)
	if err != nil {
		return false, time.Time{}, err
	}
	if p.clock.Now().Before(retryAfter) {
		return false, retryAfter, nil
	}
	return true, retryAfter, nil
}

// DeferFor returns how long a declined job should wait: the rest of the
// window, at least one second and never more than the configured retry delay.
func (p *Precheck) DeferFor(retryAfter time.Time) time.Duration {
	wait := retryAfter.Sub(p.clock.Now())
	if wait > p.retryDelay {
		wait = p.retryDelay
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}
