package types

import (
	"strconv"
	"strings"
	"time"
)

// ResultType is the classification of one delivery call.
type ResultType string

const (
	ResultSucceeded         ResultType = "Succeeded"
	ResultThrottled         ResultType = "Throttled"
	ResultRecipientNotFound ResultType = "RecipientNotFound"
	ResultFailed            ResultType = "Failed"
)

// DeliveryStatus is the status persisted on a RecipientResult. Throttled is
// deliberately absent: throttling is system-wide and never recorded per recipient.
type DeliveryStatus string

const (
	DeliveryStatusSucceeded         DeliveryStatus = "Succeeded"
	DeliveryStatusFailed            DeliveryStatus = "Failed"
	DeliveryStatusRecipientNotFound DeliveryStatus = "RecipientNotFound"
	DeliveryStatusRetrying          DeliveryStatus = "Retrying"
	DeliveryStatusFaulted           DeliveryStatus = "Faulted"
)

// Sentinel status codes stored when no HTTP status describes the outcome.
const (
	StatusCodeFaultedAndRetrying = -1
	StatusCodeFinalFaulted       = -2
	StatusCodeTransportError     = -3
)

// DeliveryOutcome is the value returned by a delivery call. StatusCodes holds
// one entry per attempt made within that call, in order.
type DeliveryOutcome struct {
	ResultType         ResultType
	StatusCode         int
	StatusCodes        []int
	TotalThrottleCount int
	ErrorMessage       string
}

// StatusCodeTrail renders StatusCodes in storage form: every code followed by
// a comma, e.g. "429,201,".
func (o DeliveryOutcome) StatusCodeTrail() string {
	var b strings.Builder
	for _, code := range o.StatusCodes {
		b.WriteString(strconv.Itoa(code))
		b.WriteByte(',')
	}
	return b.String()
}

// DeliveryStatus maps the outcome to its persisted status.
func (o DeliveryOutcome) DeliveryStatus() DeliveryStatus {
	switch o.ResultType {
	case ResultSucceeded:
		return DeliveryStatusSucceeded
	case ResultRecipientNotFound:
		return DeliveryStatusRecipientNotFound
	default:
		return DeliveryStatusFailed
	}
}

// RecipientResult is the persisted row for one (notification, recipient) pair.
// Each write fully replaces the previous row.
type RecipientResult struct {
	NotificationID             string
	RecipientID                string
	DeliveryStatus             DeliveryStatus
	StatusCode                 int
	AllStatusCodes             string
	TotalThrottleCount         int
	IsFromConversationCreation bool
	ErrorMessage               string
	ConversationID             string
	UpdatedAt                  time.Time
}

// ResultSummary aggregates the recorded results of one notification.
type ResultSummary struct {
	NotificationID     string                 `json:"notification_id"`
	Total              int                    `json:"total"`
	ByStatus           map[DeliveryStatus]int `json:"by_status"`
	TotalThrottleCount int                    `json:"total_throttle_count"`
}
