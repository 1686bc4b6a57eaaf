package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// ThrottleRepository keeps the shared retry-after timestamp in send_throttle.
// GREATEST in the upsert makes concurrent pushes commute.
type ThrottleRepository struct {
	db  DBTX
	key string
}

func NewThrottleRepository(db DBTX, key string) *ThrottleRepository {
	return &ThrottleRepository{db: db, key: key}
}

// RetryAfter returns the zero time when no throttle was ever recorded.
func (r *ThrottleRepository) RetryAfter(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.db.QueryRow(ctx,
		`SELECT retry_after FROM send_throttle WHERE key = $1`,
		r.key,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read throttle state", err)
	}
	return t.UTC(), nil
}

// PushForward moves retry_after to until unless it is already later.
func (r *ThrottleRepository) PushForward(ctx context.Context, until time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO send_throttle (key, retry_after) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET
		   retry_after = GREATEST(send_throttle.retry_after, EXCLUDED.retry_after)`,
		r.key, until.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to push throttle state forward", err)
	}
	return nil
}
