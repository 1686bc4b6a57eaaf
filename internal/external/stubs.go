package external

import (
	"context"
	"log/slog"
	"net/http"

	"courier/internal/types"
)

var _ BotTransport = (*StubBotTransport)(nil)

// StubBotTransport logs calls and reports success. It lets the worker run
// locally without bot credentials.
type StubBotTransport struct {
	logger *slog.Logger
}

func NewStubBotTransport(logger *slog.Logger) *StubBotTransport {
	return &StubBotTransport{logger: logger}
}

func (s *StubBotTransport) CreateConversation(ctx context.Context, recipient types.RecipientDescriptor) (string, int, error) {
	s.logger.InfoContext(ctx, "stub: CreateConversation called",
		"recipient_id", recipient.RecipientID,
		"service_url", recipient.ServiceURL,
	)
	return "stub-conversation-" + recipient.RecipientID, http.StatusCreated, nil
}

func (s *StubBotTransport) SendMessage(ctx context.Context, serviceURL, conversationID string, content types.NotificationContent) (int, error) {
	s.logger.InfoContext(ctx, "stub: SendMessage called",
		"conversation_id", conversationID,
		"notification_id", content.NotificationID,
	)
	return http.StatusCreated, nil
}
