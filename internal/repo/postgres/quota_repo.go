package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
)

var ErrDailyAcceptLimit = errors.New("daily accept limit reached")

// QuotaRepo tracks accepts consumed per user, per lane, per UTC day.
// A new day simply means a new row; nothing ever decrements a counter.
type QuotaRepo struct {
	pool *pgxpool.Pool
}

func NewQuotaRepo(pool *pgxpool.Pool) *QuotaRepo {
	return &QuotaRepo{pool: pool}
}

func (r *QuotaRepo) GetAcceptsUsed(ctx context.Context, userID int64, dayKey string, lane enums.Lane) (int, error) {
	if userID <= 0 || strings.TrimSpace(dayKey) == "" || !lane.Valid() {
		return 0, fmt.Errorf("invalid quota lookup payload")
	}
	if r.pool == nil {
		return 0, nil
	}

	var used int
	err := r.pool.QueryRow(ctx, `
SELECT accepts_used
FROM quotas_daily
WHERE user_id = $1 AND day_utc = $2::date AND lane = $3
LIMIT 1
`, userID, dayKey, string(lane)).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get daily accept usage: %w", err)
	}

	return used, nil
}

// ConsumeAcceptWithLimit is the single admission point for quota spending:
// an upsert guarded by the limit, returning the new usage. When the counter
// is already at the cap the WHERE clause suppresses the update and the
// caller sees ErrDailyAcceptLimit with no row mutated.
func (r *QuotaRepo) ConsumeAcceptWithLimit(ctx context.Context, tx pgx.Tx, userID int64, dayKey string, lane enums.Lane, limit int) (int, error) {
	if userID <= 0 || strings.TrimSpace(dayKey) == "" || !lane.Valid() || limit <= 0 {
		return 0, fmt.Errorf("invalid quota consume payload")
	}
	if tx == nil {
		return 0, fmt.Errorf("transaction is required")
	}

	var used int
	err := tx.QueryRow(ctx, `
INSERT INTO quotas_daily (
	user_id,
	day_utc,
	lane,
	accepts_used,
	updated_at
) VALUES ($1, $2::date, $3, 1, NOW())
ON CONFLICT (user_id, day_utc, lane) DO UPDATE SET
	accepts_used = quotas_daily.accepts_used + 1,
	updated_at = NOW()
WHERE quotas_daily.accepts_used < $4
RETURNING accepts_used
`, userID, dayKey, string(lane), limit).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrDailyAcceptLimit
		}
		return 0, fmt.Errorf("consume accept quota with limit: %w", err)
	}

	return used, nil
}
