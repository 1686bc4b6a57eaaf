package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"courier/internal/types"
)

// Sender runs the attempt loop for one delivery. It has no persistent side
// effects.
type Sender struct {
	transport      BotTransport
	attemptTimeout time.Duration
	policy         RetryPolicy
	sleep          func(ctx context.Context, d time.Duration) error
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithRetryPolicy sets the backoff between attempts.
func WithRetryPolicy(p RetryPolicy) SenderOption {
	return func(s *Sender) {
		s.policy = p
	}
}

// WithSleepFunc replaces the context-aware sleep between attempts.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *Sender) {
		s.sleep = fn
	}
}

func NewSender(transport BotTransport, attemptTimeout time.Duration, opts ...SenderOption) *Sender {
	s := &Sender{
		transport:      transport,
		attemptTimeout: attemptTimeout,
		policy:         DefaultRetryPolicy,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send makes up to maxAttempts attempts and classifies them:
//  1. a 404 ends the loop as RecipientNotFound
//  2. a 2xx ends the loop as Succeeded
//  3. if all maxAttempts attempts were 429 the result is Throttled
//  4. anything else is Failed
//
// 429, 5xx and transport errors are retried. Other statuses stop the loop.
func (s *Sender) Send(ctx context.Context, params DeliveryParameters, maxAttempts int) types.DeliveryOutcome {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		codes     []int
		throttled int
		lastError string
	)

loop:
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, CalculateNextRetry(s.policy, attempt-1)); err != nil {
				lastError = err.Error()
				break
			}
		}

		code, errMsg := s.attempt(ctx, params)
		codes = append(codes, code)

		switch {
		case code == http.StatusNotFound:
			return types.DeliveryOutcome{
				ResultType:         types.ResultRecipientNotFound,
				StatusCode:         code,
				StatusCodes:        codes,
				TotalThrottleCount: throttled,
			}
		case code >= 200 && code <= 299:
			return types.DeliveryOutcome{
				ResultType:         types.ResultSucceeded,
				StatusCode:         code,
				StatusCodes:        codes,
				TotalThrottleCount: throttled,
			}
		case code == http.StatusTooManyRequests:
			throttled++
			lastError = errMsg
		case code == types.StatusCodeTransportError || code >= 500:
			lastError = errMsg
		default:
			lastError = errMsg
			break loop
		}
	}

	result := types.ResultFailed
	if throttled == maxAttempts {
		result = types.ResultThrottled
	}
	return types.DeliveryOutcome{
		ResultType:         result,
		StatusCode:         codes[len(codes)-1],
		StatusCodes:        codes,
		TotalThrottleCount: throttled,
		ErrorMessage:       lastError,
	}
}

// attempt returns the HTTP status, or StatusCodeTransportError with a message
// when none was obtained within attemptTimeout.
func (s *Sender) attempt(ctx context.Context, params DeliveryParameters) (int, string) {
	actx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	code, err := s.transport.SendMessage(actx, params.ServiceURL, params.ConversationID, params.Content)
	if err != nil {
		return types.StatusCodeTransportError, err.Error()
	}
	if code < 200 || code > 299 {
		return code, fmt.Sprintf("send message returned %d", code)
	}
	return code, ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
