package types

import (
	"encoding/json"
	"strings"
)

// RecipientType distinguishes 1:1 user recipients from channel (team) recipients.
type RecipientType string

const (
	RecipientUser    RecipientType = "user"
	RecipientChannel RecipientType = "channel"
)

// RecipientDescriptor identifies where a notification is delivered. For users
// without an established conversation the worker creates one on first send.
// For channel recipients RecipientID is the channel's conversation id.
type RecipientDescriptor struct {
	RecipientID   string        `json:"recipient_id"`
	RecipientType RecipientType `json:"recipient_type"`
	ServiceURL    string        `json:"service_url"`
	TenantID      string        `json:"tenant_id,omitempty"`
	UserID        string        `json:"user_id,omitempty"`

	// ConversationID is the previously established conversation reference.
	// Empty when no conversation exists yet.
	ConversationID string `json:"conversation_id,omitempty"`
}

// SendJob is the SQS payload produced by the fan-out step: one message per
// (notification, recipient) pair. The worker never mutates it; a throttled job
// is re-published byte-for-byte equivalent.
type SendJob struct {
	NotificationID string              `json:"notification_id"`
	Recipient      RecipientDescriptor `json:"recipient"`
}

// Validate checks the fields the pipeline cannot operate without.
func (j SendJob) Validate() error {
	var missing []string
	if j.NotificationID == "" {
		missing = append(missing, "notification_id")
	}
	if j.Recipient.RecipientID == "" {
		missing = append(missing, "recipient.recipient_id")
	}
	if j.Recipient.ServiceURL == "" {
		missing = append(missing, "recipient.service_url")
	}
	switch j.Recipient.RecipientType {
	case RecipientUser:
		if j.Recipient.ConversationID == "" && j.Recipient.UserID == "" {
			missing = append(missing, "recipient.user_id")
		}
	case RecipientChannel:
	default:
		return NewAppError(ErrCodeValidationInvalidJob, "send job: unknown recipient_type "+string(j.Recipient.RecipientType), nil)
	}
	if len(missing) > 0 {
		return NewAppError(ErrCodeValidationMissingField, "send job: missing "+strings.Join(missing, ", "), nil).
			WithDetails(map[string]any{"fields": missing})
	}
	return nil
}

// NotificationContent is the pre-rendered message shared by every recipient of
// a notification. Card, when present, is sent as an adaptive card attachment.
type NotificationContent struct {
	NotificationID string          `json:"notification_id"`
	Title          string          `json:"title"`
	Text           string          `json:"text"`
	Card           json.RawMessage `json:"card,omitempty"`
}
