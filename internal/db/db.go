// Package db provides PostgreSQL-backed repositories for the send pipeline
// and the report API. Repositories accept a DBTX so the same code runs against
// a *pgxpool.Pool or inside a pgx.Tx.
//
// Tables:
//
//	notifications          (id PK, title, text, card jsonb)
//	sent_notifications     ((notification_id, recipient_id) PK, delivery_status,
//	                        status_code, all_status_codes, total_throttle_count,
//	                        is_from_conversation_creation, error_message,
//	                        conversation_id, updated_at)
//	recipient_conversations (recipient_id PK, conversation_id, service_url, updated_at)
//	send_throttle          (key PK, retry_after timestamptz)
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
