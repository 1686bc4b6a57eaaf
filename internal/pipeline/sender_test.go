package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/types"
)

func testParams() DeliveryParameters {
	return DeliveryParameters{
		Content:        types.NotificationContent{NotificationID: "n1", Title: "Update"},
		ServiceURL:     "https://smba.example/amer/",
		ConversationID: "a:conv",
		RecipientID:    "r1",
	}
}

func TestSender_Classification(t *testing.T) {
	tests := []struct {
		name          string
		codes         []int
		wantResult    types.ResultType
		wantTrail     string
		wantThrottles int
		wantCalls     int
	}{
		{"first try succeeds", []int{201}, types.ResultSucceeded, "201,", 0, 1},
		{"succeeds after throttle", []int{429, 200}, types.ResultSucceeded, "429,200,", 1, 2},
		{"not found stops immediately", []int{404, 201}, types.ResultRecipientNotFound, "404,", 0, 1},
		{"not found after throttle", []int{429, 404}, types.ResultRecipientNotFound, "429,404,", 1, 2},
		{"all throttled", []int{429, 429, 429}, types.ResultThrottled, "429,429,429,", 3, 3},
		{"server errors exhaust attempts", []int{500, 502, 503}, types.ResultFailed, "500,502,503,", 0, 3},
		{"mixed throttle and server error", []int{429, 500, 429}, types.ResultFailed, "429,500,429,", 2, 3},
		{"transport errors are retried", []int{-1, -1, 201}, types.ResultSucceeded, "-3,-3,201,", 0, 3},
		{"non retryable client error", []int{403, 201}, types.ResultFailed, "403,", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{sendCodes: tt.codes}
			s := NewSender(transport, time.Second, WithSleepFunc(noSleep))

			out := s.Send(context.Background(), testParams(), 3)
			assert.Equal(t, tt.wantResult, out.ResultType)
			assert.Equal(t, tt.wantTrail, out.StatusCodeTrail())
			assert.Equal(t, tt.wantThrottles, out.TotalThrottleCount)
			assert.Equal(t, tt.wantCalls, transport.sendCount())
			assert.Len(t, out.StatusCodes, tt.wantCalls)
			assert.Equal(t, out.StatusCodes[len(out.StatusCodes)-1], out.StatusCode)
		})
	}
}

func TestSender_FailureCarriesLastError(t *testing.T) {
	s := NewSender(&fakeTransport{sendCodes: []int{-1}}, time.Second, WithSleepFunc(noSleep))

	out := s.Send(context.Background(), testParams(), 2)
	assert.Equal(t, types.ResultFailed, out.ResultType)
	assert.Equal(t, types.StatusCodeTransportError, out.StatusCode)
	assert.Contains(t, out.ErrorMessage, "connection reset")
}

func TestSender_SingleAttemptMinimum(t *testing.T) {
	transport := &fakeTransport{sendCodes: []int{429}}
	s := NewSender(transport, time.Second, WithSleepFunc(noSleep))

	out := s.Send(context.Background(), testParams(), 0)
	assert.Equal(t, types.ResultThrottled, out.ResultType)
	assert.Equal(t, 1, transport.sendCount())
}

func TestSender_BacksOffBetweenAttempts(t *testing.T) {
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	s := NewSender(&fakeTransport{sendCodes: []int{503}}, time.Second, WithSleepFunc(sleep), WithRetryPolicy(policy))

	s.Send(context.Background(), testParams(), 4)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, waits)
}

func TestSender_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{sendCodes: []int{429}}
	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	s := NewSender(transport, time.Second, WithSleepFunc(sleep))

	out := s.Send(ctx, testParams(), 3)
	assert.Equal(t, 1, transport.sendCount())
	assert.Equal(t, types.ResultFailed, out.ResultType, "a throttled job must have used every attempt")
	assert.Equal(t, 1, out.TotalThrottleCount)
	assert.Equal(t, context.Canceled.Error(), out.ErrorMessage)
}

type blockingTransport struct{ fakeTransport }

func (b *blockingTransport) SendMessage(ctx context.Context, _, _ string, _ types.NotificationContent) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestSender_AttemptTimeoutIsTransportError(t *testing.T) {
	s := NewSender(&blockingTransport{}, 10*time.Millisecond, WithSleepFunc(noSleep))

	out := s.Send(context.Background(), testParams(), 1)
	require.Len(t, out.StatusCodes, 1)
	assert.Equal(t, types.StatusCodeTransportError, out.StatusCode)
	assert.Equal(t, types.ResultFailed, out.ResultType)
	assert.Contains(t, out.ErrorMessage, "deadline exceeded")
}

func TestSender_SendsResolvedParameters(t *testing.T) {
	transport := &fakeTransport{sendCodes: []int{201}}
	s := NewSender(transport, time.Second)

	s.Send(context.Background(), testParams(), 1)
	require.Len(t, transport.sends, 1)
	assert.Equal(t, "https://smba.example/amer/", transport.sends[0].ServiceURL)
	assert.Equal(t, "a:conv", transport.sends[0].ConversationID)
	assert.Equal(t, "Update", transport.sends[0].Content.Title)
}
