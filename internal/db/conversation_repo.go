package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// ConversationRepository remembers the 1:1 conversation created for a
// recipient so later notifications skip the creation call.
type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Get returns the stored conversation id, or "" if none was saved.
func (r *ConversationRepository) Get(ctx context.Context, recipientID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT conversation_id FROM recipient_conversations WHERE recipient_id = $1`,
		recipientID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to get recipient conversation", err)
	}
	return id, nil
}

// Save stores or replaces the conversation of a recipient.
func (r *ConversationRepository) Save(ctx context.Context, recipientID, conversationID, serviceURL string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recipient_conversations (recipient_id, conversation_id, service_url, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (recipient_id) DO UPDATE SET
		   conversation_id = EXCLUDED.conversation_id,
		   service_url = EXCLUDED.service_url,
		   updated_at = NOW()`,
		recipientID, conversationID, serviceURL,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save recipient conversation", err)
	}
	return nil
}
