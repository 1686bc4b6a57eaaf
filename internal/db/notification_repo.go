package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// NotificationRepository reads notification content written by the operator
// API. The send pipeline never modifies it.
type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// GetContent returns the pre-rendered content of a notification.
func (r *NotificationRepository) GetContent(ctx context.Context, notificationID string) (*types.NotificationContent, error) {
	var (
		n    types.NotificationContent
		card []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, title, text, card FROM notifications WHERE id = $1`,
		notificationID,
	).Scan(&n.NotificationID, &n.Title, &n.Text, &card)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found: "+notificationID, nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification content", err)
	}
	if len(card) > 0 {
		n.Card = card
	}
	return &n, nil
}
