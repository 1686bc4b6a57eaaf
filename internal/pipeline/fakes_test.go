package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"courier/internal/types"
)

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Logger ---

type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, level+":"+msg)
}

func (m *mockLogger) Info(msg string, args ...any) { m.record("info", msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.record("error", msg) }
func (m *mockLogger) Warn(msg string, args ...any) { m.record("warn", msg) }
func (m *mockLogger) With(args ...any) types.Logger { return m }

func (m *mockLogger) has(entry string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.messages {
		if e == entry {
			return true
		}
	}
	return false
}

// --- Throttle state ---

type failingThrottle struct{ err error }

func (f failingThrottle) RetryAfter(context.Context) (time.Time, error) { return time.Time{}, f.err }
func (f failingThrottle) PushForward(context.Context, time.Time) error { return f.err }

// --- Bot transport ---

type sendCall struct {
	ServiceURL     string
	ConversationID string
	Content        types.NotificationContent
}

// fakeTransport replays scripted send statuses; a negative status produces a
// transport error. When the script runs out the last entry repeats.
type fakeTransport struct {
	mu          sync.Mutex
	sendCodes   []int
	sends       []sendCall
	createID    string
	createCode  int
	createErr   error
	createCalls int
}

func (f *fakeTransport) CreateConversation(_ context.Context, r types.RecipientDescriptor) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", 0, f.createErr
	}
	if f.createCode >= 200 && f.createCode <= 299 {
		return f.createID, f.createCode, nil
	}
	return "", f.createCode, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, serviceURL, conversationID string, content types.NotificationContent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{ServiceURL: serviceURL, ConversationID: conversationID, Content: content})
	idx := len(f.sends) - 1
	if idx >= len(f.sendCodes) {
		idx = len(f.sendCodes) - 1
	}
	code := f.sendCodes[idx]
	if code < 0 {
		return 0, errors.New("connection reset by peer")
	}
	return code, nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// --- Stores ---

type fakeNotificationStore struct {
	mu      sync.Mutex
	content map[string]types.NotificationContent
	err     error
	calls   int
}

func (f *fakeNotificationStore) GetContent(_ context.Context, id string) (*types.NotificationContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.content[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found: "+id, nil)
	}
	return &c, nil
}

type fakeConversationStore struct {
	mu      sync.Mutex
	saved   map[string]string
	getErr  error
	saveErr error
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{saved: map[string]string{}}
}

func (f *fakeConversationStore) Get(_ context.Context, recipientID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.saved[recipientID], nil
}

func (f *fakeConversationStore) Save(_ context.Context, recipientID, conversationID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[recipientID] = conversationID
	return nil
}

type resultKey struct{ notificationID, recipientID string }

type fakeResultStore struct {
	mu     sync.Mutex
	rows   map[resultKey]types.RecipientResult
	writes int
	err    error
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{rows: map[resultKey]types.RecipientResult{}}
}

func (f *fakeResultStore) Upsert(_ context.Context, res types.RecipientResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.err != nil {
		return f.err
	}
	k := resultKey{res.NotificationID, res.RecipientID}
	if res.ConversationID == "" {
		res.ConversationID = f.rows[k].ConversationID
	}
	f.rows[k] = res
	return nil
}

func (f *fakeResultStore) get(notificationID, recipientID string) (types.RecipientResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[resultKey{notificationID, recipientID}]
	return r, ok
}

func (f *fakeResultStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// --- Queue ---

type publishCall struct {
	Job   types.SendJob
	Delay time.Duration
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, job types.SendJob, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, publishCall{Job: job, Delay: delay})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type visibilityCall struct {
	ReceiptHandle string
	Wait          time.Duration
}

type fakeVisibility struct {
	mu    sync.Mutex
	calls []visibilityCall
	err   error
}

func (f *fakeVisibility) ExtendVisibility(_ context.Context, receiptHandle string, wait time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, visibilityCall{ReceiptHandle: receiptHandle, Wait: wait})
	return nil
}

// --- Metrics ---

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	throttled []string
	latencies int
	lags      []time.Duration
}

func (m *recordingMetrics) RecordOutcome(_ context.Context, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, result)
}

func (m *recordingMetrics) RecordLatency(context.Context, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *recordingMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lags = append(m.lags, lag)
}

func (m *recordingMetrics) RecordThrottled(_ context.Context, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled = append(m.throttled, source)
}

// --- AWS clients ---

type mockSQS struct {
	mu         sync.Mutex
	sends      []*sqs.SendMessageInput
	visibility []*sqs.ChangeMessageVisibilityInput
	sendErr    error
	visErr     error
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, in)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility = append(m.visibility, in)
	if m.visErr != nil {
		return nil, m.visErr
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

type mockCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, in)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// noSleep skips backoff waits but still honours cancellation.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func userJob(notificationID, recipientID string) types.SendJob {
	return types.SendJob{
		NotificationID: notificationID,
		Recipient: types.RecipientDescriptor{
			RecipientID:   recipientID,
			RecipientType: types.RecipientUser,
			ServiceURL:    "https://smba.example/amer/",
			TenantID:      "tenant-1",
			UserID:        "29:" + recipientID,
		},
	}
}
