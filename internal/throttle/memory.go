// Package throttle holds the shared "do not send until" timestamp consulted by
// every sender before it contacts the bot transport.
//
// The value only ever moves forward. Readers tolerate staleness: a sender that
// misses a fresh push sends once more, gets throttled, and pushes again.
package throttle

import (
	"context"
	"sync/atomic"
	"time"
)

// Memory keeps the state in process. It coordinates the goroutines of one
// worker only and is meant for local runs and tests.
type Memory struct {
	// Unix nanoseconds. Zero means never throttled.
	retryAfter atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{}
}

// RetryAfter returns the zero time if no throttle was ever recorded.
func (m *Memory) RetryAfter(_ context.Context) (time.Time, error) {
	n := m.retryAfter.Load()
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, n).UTC(), nil
}

// PushForward stores until if it is later than the current value.
func (m *Memory) PushForward(_ context.Context, until time.Time) error {
	next := until.UnixNano()
	for {
		cur := m.retryAfter.Load()
		if next <= cur {
			return nil
		}
		if m.retryAfter.CompareAndSwap(cur, next) {
			return nil
		}
	}
}
