package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier/internal/types"
)

// --- Mocks ---

type mockResultReader struct {
	result     *types.RecipientResult
	summary    *types.ResultSummary
	err        error
	gotNotifID string
	gotRecipID string
}

func (m *mockResultReader) Get(_ context.Context, notificationID, recipientID string) (*types.RecipientResult, error) {
	m.gotNotifID, m.gotRecipID = notificationID, recipientID
	return m.result, m.err
}

func (m *mockResultReader) Summarize(_ context.Context, notificationID string) (*types.ResultSummary, error) {
	m.gotNotifID = notificationID
	return m.summary, m.err
}

type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panics   bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panics {
		panic("boom")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, reader *mockResultReader, probes ...HealthProbe) *Server {
	t.Helper()
	srv, err := NewServer(reader, discardLogger(), probes...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func do(srv *Server, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, discardLogger()); err == nil {
		t.Error("expected error for nil reader")
	}
	if _, err := NewServer(&mockResultReader{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestHandleRecipientResult(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &mockResultReader{result: &types.RecipientResult{
		NotificationID:     "n1",
		RecipientID:        "r1",
		DeliveryStatus:     types.DeliveryStatusSucceeded,
		StatusCode:         201,
		AllStatusCodes:     "429,201,",
		TotalThrottleCount: 1,
		ConversationID:     "a:conv",
		UpdatedAt:          updated,
	}}
	srv := newTestServer(t, reader)

	rec := do(srv, "/v1/notifications/n1/results/r1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if reader.gotNotifID != "n1" || reader.gotRecipID != "r1" {
		t.Errorf("reader called with %q/%q", reader.gotNotifID, reader.gotRecipID)
	}

	var body struct {
		Data recipientResultResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.DeliveryStatus != "Succeeded" || body.Data.AllStatusCodes != "429,201," || body.Data.TotalThrottleCount != 1 {
		t.Errorf("unexpected body %+v", body.Data)
	}
	if !body.Data.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", body.Data.UpdatedAt, updated)
	}
}

func TestHandleRecipientResult_NotFound(t *testing.T) {
	reader := &mockResultReader{err: types.NewAppError(types.ErrCodeNotFoundResult, "send result not found", nil)}
	srv := newTestServer(t, reader)

	rec := do(srv, "/v1/notifications/n1/results/missing", "X-Request-Id", "req-123")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeNotFoundResult) {
		t.Errorf("code = %q", body.Error.Code)
	}
	if body.Error.RequestID != "req-123" {
		t.Errorf("request_id = %q, want req-123", body.Error.RequestID)
	}
}

func TestHandleResultSummary(t *testing.T) {
	reader := &mockResultReader{summary: &types.ResultSummary{
		NotificationID: "n1",
		Total:          3,
		ByStatus: map[types.DeliveryStatus]int{
			types.DeliveryStatusSucceeded: 2,
			types.DeliveryStatusFaulted:   1,
		},
		TotalThrottleCount: 4,
	}}
	srv := newTestServer(t, reader)

	rec := do(srv, "/v1/notifications/n1/results/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data types.ResultSummary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Total != 3 || body.Data.ByStatus[types.DeliveryStatusSucceeded] != 2 || body.Data.TotalThrottleCount != 4 {
		t.Errorf("unexpected summary %+v", body.Data)
	}
}

func TestHandleResultSummary_InternalErrorIsNotLeaked(t *testing.T) {
	reader := &mockResultReader{err: errors.New("pq: password authentication failed for user courier")}
	srv := newTestServer(t, reader)

	rec := do(srv, "/v1/notifications/n1/results/summary")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body APIErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Message != "an unexpected error occurred" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	srv := newTestServer(t, &mockResultReader{})

	rec := do(srv, "/health")
	if id := rec.Header().Get("X-Request-Id"); len(id) != 36 {
		t.Errorf("X-Request-Id = %q, want a UUID", id)
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		probes     []HealthProbe
		wantStatus int
		wantBody   string
	}{
		{"no probes", nil, http.StatusOK, "healthy"},
		{"all healthy", []HealthProbe{&mockHealthProbe{name: "database"}}, http.StatusOK, "healthy"},
		{"one failing", []HealthProbe{
			&mockHealthProbe{name: "database"},
			&mockHealthProbe{name: "throttle", checkErr: errors.New("connection refused")},
		}, http.StatusServiceUnavailable, "unhealthy"},
		{"panicking probe", []HealthProbe{&mockHealthProbe{name: "database", panics: true}}, http.StatusServiceUnavailable, "unhealthy"},
		{"timed out", []HealthProbe{&mockHealthProbe{name: "database", delay: 5 * time.Second}}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockResultReader{}, tt.probes...)

			rec := do(srv, "/health")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
		})
	}
}

func TestPingProbe(t *testing.T) {
	boom := errors.New("pool closed")
	p := NewPingProbe("database", pingerFunc(func(context.Context) error { return boom }))

	if p.Name() != "database" {
		t.Errorf("Name = %q", p.Name())
	}
	if err := p.Check(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Check = %v, want %v", err, boom)
	}
}

func TestRecoverer(t *testing.T) {
	srv := newTestServer(t, &mockResultReader{})
	srv.router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := do(srv, "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body APIErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", body.Error.Code)
	}
}
