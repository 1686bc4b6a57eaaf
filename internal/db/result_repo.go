package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// ResultRepository persists one row per (notification, recipient) pair in
// sent_notifications.
type ResultRepository struct {
	db DBTX
}

func NewResultRepository(db DBTX) *ResultRepository {
	return &ResultRepository{db: db}
}

// Upsert writes res, replacing every outcome column of an existing row.
// Replaying the same write leaves the row unchanged apart from updated_at.
// conversation_id is kept when the new write does not carry one.
func (r *ResultRepository) Upsert(ctx context.Context, res types.RecipientResult) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sent_notifications
		 (notification_id, recipient_id, delivery_status, status_code, all_status_codes,
		  total_throttle_count, is_from_conversation_creation, error_message,
		  conversation_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		 ON CONFLICT (notification_id, recipient_id) DO UPDATE SET
		   delivery_status = EXCLUDED.delivery_status,
		   status_code = EXCLUDED.status_code,
		   all_status_codes = EXCLUDED.all_status_codes,
		   total_throttle_count = EXCLUDED.total_throttle_count,
		   is_from_conversation_creation = EXCLUDED.is_from_conversation_creation,
		   error_message = EXCLUDED.error_message,
		   conversation_id = COALESCE(EXCLUDED.conversation_id, sent_notifications.conversation_id),
		   updated_at = EXCLUDED.updated_at`,
		res.NotificationID,
		res.RecipientID,
		string(res.DeliveryStatus),
		res.StatusCode,
		res.AllStatusCodes,
		res.TotalThrottleCount,
		res.IsFromConversationCreation,
		nilIfEmpty(res.ErrorMessage),
		nilIfEmpty(res.ConversationID),
		nilIfZeroTime(res.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert send result", err).
			WithDetails(map[string]any{
				"notification_id": res.NotificationID,
				"recipient_id":    res.RecipientID,
			})
	}
	return nil
}

// Get returns the recorded result of one recipient.
func (r *ResultRepository) Get(ctx context.Context, notificationID, recipientID string) (*types.RecipientResult, error) {
	var (
		res            types.RecipientResult
		status         string
		errorMessage   *string
		conversationID *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT notification_id, recipient_id, delivery_status, status_code, all_status_codes,
		        total_throttle_count, is_from_conversation_creation, error_message,
		        conversation_id, updated_at
		 FROM sent_notifications
		 WHERE notification_id = $1 AND recipient_id = $2`,
		notificationID, recipientID,
	).Scan(
		&res.NotificationID,
		&res.RecipientID,
		&status,
		&res.StatusCode,
		&res.AllStatusCodes,
		&res.TotalThrottleCount,
		&res.IsFromConversationCreation,
		&errorMessage,
		&conversationID,
		&res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundResult,
				fmt.Sprintf("no result for recipient %s of notification %s", recipientID, notificationID), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get send result", err)
	}
	res.DeliveryStatus = types.DeliveryStatus(status)
	res.ErrorMessage = derefString(errorMessage)
	res.ConversationID = derefString(conversationID)
	return &res, nil
}

// Summarize counts recorded results per delivery status.
func (r *ResultRepository) Summarize(ctx context.Context, notificationID string) (*types.ResultSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT delivery_status, COUNT(*), COALESCE(SUM(total_throttle_count), 0)
		 FROM sent_notifications
		 WHERE notification_id = $1
		 GROUP BY delivery_status`,
		notificationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to summarize send results", err)
	}
	defer rows.Close()

	summary := &types.ResultSummary{
		NotificationID: notificationID,
		ByStatus:       make(map[types.DeliveryStatus]int),
	}
	for rows.Next() {
		var (
			status    string
			count     int
			throttles int
		)
		if err := rows.Scan(&status, &count, &throttles); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan result summary row", err)
		}
		summary.ByStatus[types.DeliveryStatus(status)] = count
		summary.Total += count
		summary.TotalThrottleCount += throttles
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating result summary rows", err)
	}
	return summary, nil
}
