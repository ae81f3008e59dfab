package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
)

// EntitlementRepo stores the subscription tier per user. Rows are created
// lazily with the free default on first write-requiring access.
type EntitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

type EntitlementRecord struct {
	UserID    int64
	PlanCode  enums.PlanCode
	ExpiresAt *time.Time
}

// Get reads the stored record; absent rows surface as the free default
// without writing anything.
func (r *EntitlementRepo) Get(ctx context.Context, userID int64) (EntitlementRecord, error) {
	if userID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return EntitlementRecord{UserID: userID, PlanCode: enums.PlanFree}, nil
	}

	var rec EntitlementRecord
	err := r.pool.QueryRow(ctx, `
SELECT user_id, plan_code, expires_at
FROM entitlements
WHERE user_id = $1
LIMIT 1
`, userID).Scan(&rec.UserID, &rec.PlanCode, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EntitlementRecord{UserID: userID, PlanCode: enums.PlanFree}, nil
		}
		return EntitlementRecord{}, fmt.Errorf("get entitlement: %w", err)
	}

	return rec, nil
}

// ExtendPlus upgrades the user, extending from the later of now and the
// current expiry so stacked purchases accumulate.
func (r *EntitlementRepo) ExtendPlus(ctx context.Context, userID int64, period time.Duration, now time.Time) (EntitlementRecord, error) {
	if userID <= 0 || period <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid plus extension payload")
	}
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec EntitlementRecord
	err := r.pool.QueryRow(ctx, `
INSERT INTO entitlements (
	user_id,
	plan_code,
	expires_at,
	updated_at
) VALUES ($1, 'plus', $2::timestamptz + $3::interval, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	plan_code = 'plus',
	expires_at = CASE
		WHEN entitlements.expires_at IS NOT NULL AND entitlements.expires_at > $2::timestamptz
			THEN entitlements.expires_at + $3::interval
		ELSE $2::timestamptz + $3::interval
	END,
	updated_at = NOW()
RETURNING user_id, plan_code, expires_at
`, userID, now.UTC(), period.String()).Scan(&rec.UserID, &rec.PlanCode, &rec.ExpiresAt)
	if err != nil {
		return EntitlementRecord{}, fmt.Errorf("extend plus entitlement: %w", err)
	}

	return rec, nil
}

// CancelPlus drops the user back to free immediately.
func (r *EntitlementRepo) CancelPlus(ctx context.Context, userID int64, now time.Time) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO entitlements (
	user_id,
	plan_code,
	expires_at,
	updated_at
) VALUES ($1, 'free', NULL, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	plan_code = 'free',
	expires_at = NULL,
	updated_at = NOW()
`, userID); err != nil {
		return fmt.Errorf("cancel plus entitlement: %w", err)
	}

	return nil
}
