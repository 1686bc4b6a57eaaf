// Package external wraps third-party HTTP APIs behind domain-shaped clients.
// Outbound calls go through BaseClient, which applies client-side pacing, a
// circuit breaker, trace propagation and error mapping.
package external

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"courier/internal/types"
)

// errUpstreamStatus marks a 5xx response the breaker should count as a
// failure while still handing it to the caller.
var errUpstreamStatus = errors.New("upstream returned failure status")

// BaseClient executes exactly one HTTP exchange per Do call. Retrying is the
// caller's decision because each attempt's status code is part of the
// recorded outcome.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	limiter   *rate.Limiter
	userAgent string
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithLimiter paces requests. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) BaseClientOption {
	return func(c *BaseClient) {
		c.limiter = l
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = b
	}
}

// NewBreaker returns the breaker used by default: it opens after more than
// five consecutive 5xx or transport failures and probes again after 30s.
// A 429 is throttling, not an outage, and never counts toward tripping.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

func NewBaseClient(httpClient *http.Client, breakerName, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		breaker:   NewBreaker(breakerName),
		userAgent: userAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req once. Any HTTP response, including 4xx and 5xx, is returned
// with a nil error and the caller must close its body. A non-nil error means
// no response was received: pacing was cancelled, the breaker is open, or the
// transport failed.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamRateLimited, "request pacing interrupted", err)
		}
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 {
			return r, errUpstreamStatus
		}
		return r, nil
	})
	if errors.Is(err, errUpstreamStatus) {
		return resp, nil
	}
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp, nil
}

func (c *BaseClient) mapError(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("circuit breaker %s is open", c.breaker.Name()),
			err,
		)
	}
	return types.NewAppError(types.ErrCodeUpstreamBot, "upstream request failed", err)
}
