package external

import (
	"context"

	"courier/internal/types"
)

// BotTransport is the bot messaging channel. Status codes are returned as
// values; an error means no HTTP status was obtained.
type BotTransport interface {
	// CreateConversation opens a 1:1 conversation with a user recipient.
	// conversationID is set only on a 2xx status.
	CreateConversation(ctx context.Context, recipient types.RecipientDescriptor) (conversationID string, statusCode int, err error)

	// SendMessage posts content into an existing conversation.
	SendMessage(ctx context.Context, serviceURL, conversationID string, content types.NotificationContent) (statusCode int, err error)
}
