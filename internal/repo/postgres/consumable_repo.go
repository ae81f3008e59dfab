package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
)

var ErrInsufficientBalance = errors.New("insufficient consumable balance")

// ConsumableRepo stores per-user, per-kind balances split into a renewing
// included allotment and a non-expiring purchased allotment.
type ConsumableRepo struct {
	pool *pgxpool.Pool
}

func NewConsumableRepo(pool *pgxpool.Pool) *ConsumableRepo {
	return &ConsumableRepo{pool: pool}
}

type ConsumableBalanceRecord struct {
	UserID            int64
	Kind              enums.ConsumableKind
	PurchasedBalance  int
	IncludedTotal     int
	IncludedRemaining int
	Unlimited         bool
	RenewsAt          time.Time
	RenewalPeriod     time.Duration
}

func (rec ConsumableBalanceRecord) Balance() int {
	return rec.PurchasedBalance + rec.IncludedRemaining
}

// EnsureForUpdate returns the balance row under a row lock, creating it
// first when the user has never touched this kind. includedTotal and
// period seed the initial allotment.
func (r *ConsumableRepo) EnsureForUpdate(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, includedTotal int, period time.Duration, now time.Time) (ConsumableBalanceRecord, error) {
	if userID <= 0 {
		return ConsumableBalanceRecord{}, fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return ConsumableBalanceRecord{}, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO consumable_balances (
	user_id,
	kind,
	purchased_balance,
	included_total,
	included_remaining,
	unlimited,
	renews_at,
	renewal_period_sec,
	updated_at
) VALUES ($1, $2, 0, $3, $3, FALSE, $4, $5, NOW())
ON CONFLICT (user_id, kind) DO NOTHING
`, userID, string(kind), includedTotal, now.UTC().Add(period), int64(period.Seconds())); err != nil {
		return ConsumableBalanceRecord{}, fmt.Errorf("ensure consumable balance row: %w", err)
	}

	var (
		rec       ConsumableBalanceRecord
		periodSec int64
	)
	err := tx.QueryRow(ctx, `
SELECT user_id, kind, purchased_balance, included_total, included_remaining, unlimited, renews_at, renewal_period_sec
FROM consumable_balances
WHERE user_id = $1 AND kind = $2
FOR UPDATE
`, userID, string(kind)).Scan(
		&rec.UserID,
		&rec.Kind,
		&rec.PurchasedBalance,
		&rec.IncludedTotal,
		&rec.IncludedRemaining,
		&rec.Unlimited,
		&rec.RenewsAt,
		&periodSec,
	)
	if err != nil {
		return ConsumableBalanceRecord{}, fmt.Errorf("get consumable balance for update: %w", err)
	}
	rec.RenewalPeriod = time.Duration(periodSec) * time.Second

	return rec, nil
}

// ApplyRenewal writes a settled allotment back: the plan-sized included
// total, the computed remaining, and the (possibly advanced) boundary.
func (r *ConsumableRepo) ApplyRenewal(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, includedTotal, includedRemaining int, renewsAt time.Time, period time.Duration) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
UPDATE consumable_balances
SET
	included_total = $3,
	included_remaining = $4,
	renews_at = $5,
	renewal_period_sec = $6,
	updated_at = NOW()
WHERE user_id = $1 AND kind = $2
`, userID, string(kind), includedTotal, includedRemaining, renewsAt.UTC(), int64(period.Seconds())); err != nil {
		return fmt.Errorf("apply consumable renewal: %w", err)
	}

	return nil
}

// ConsumeOne spends a single unit, included allotment first, then the
// purchased balance. The conditional updates mean a depleted row is left
// untouched and the caller sees ErrInsufficientBalance.
func (r *ConsumableRepo) ConsumeOne(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	var unlimited bool
	err := tx.QueryRow(ctx, `
SELECT unlimited
FROM consumable_balances
WHERE user_id = $1 AND kind = $2
LIMIT 1
`, userID, string(kind)).Scan(&unlimited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("read consumable balance: %w", err)
	}
	if unlimited {
		return nil
	}

	tag, err := tx.Exec(ctx, `
UPDATE consumable_balances
SET
	included_remaining = included_remaining - 1,
	updated_at = NOW()
WHERE user_id = $1 AND kind = $2 AND included_remaining >= 1
`, userID, string(kind))
	if err != nil {
		return fmt.Errorf("consume included allotment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	tag, err = tx.Exec(ctx, `
UPDATE consumable_balances
SET
	purchased_balance = purchased_balance - 1,
	updated_at = NOW()
WHERE user_id = $1 AND kind = $2 AND purchased_balance >= 1
`, userID, string(kind))
	if err != nil {
		return fmt.Errorf("consume purchased balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	return nil
}

// CreditPurchased adds already-authorized purchased units.
func (r *ConsumableRepo) CreditPurchased(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, quantity int) error {
	if userID <= 0 || quantity <= 0 {
		return fmt.Errorf("invalid purchase credit payload")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
UPDATE consumable_balances
SET
	purchased_balance = purchased_balance + $3,
	updated_at = NOW()
WHERE user_id = $1 AND kind = $2
`, userID, string(kind), quantity); err != nil {
		return fmt.Errorf("credit purchased balance: %w", err)
	}

	return nil
}

// RecordPurchase appends the purchase ledger row. The unique idempotency
// key turns client retries into no-ops; the returned flag says whether
// this call performed the credit-worthy insert.
func (r *ConsumableRepo) RecordPurchase(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, quantity int, idempotencyKey string, now time.Time) (bool, error) {
	if userID <= 0 || quantity <= 0 || strings.TrimSpace(idempotencyKey) == "" {
		return false, fmt.Errorf("invalid purchase record payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO consumable_purchases (
	user_id,
	kind,
	quantity,
	idempotency_key,
	created_at
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (idempotency_key) DO NOTHING
`, userID, string(kind), quantity, strings.TrimSpace(idempotencyKey), now.UTC())
	if err != nil {
		return false, fmt.Errorf("record consumable purchase: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListForUser returns the user's balance rows without locking.
func (r *ConsumableRepo) ListForUser(ctx context.Context, userID int64) ([]ConsumableBalanceRecord, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return []ConsumableBalanceRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT user_id, kind, purchased_balance, included_total, included_remaining, unlimited, renews_at, renewal_period_sec
FROM consumable_balances
WHERE user_id = $1
ORDER BY kind
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list consumable balances: %w", err)
	}
	defer rows.Close()

	items := make([]ConsumableBalanceRecord, 0, 2)
	for rows.Next() {
		var (
			rec       ConsumableBalanceRecord
			periodSec int64
		)
		if err := rows.Scan(
			&rec.UserID,
			&rec.Kind,
			&rec.PurchasedBalance,
			&rec.IncludedTotal,
			&rec.IncludedRemaining,
			&rec.Unlimited,
			&rec.RenewsAt,
			&periodSec,
		); err != nil {
			return nil, fmt.Errorf("scan consumable balance: %w", err)
		}
		rec.RenewalPeriod = time.Duration(periodSec) * time.Second
		items = append(items, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate consumable balances: %w", rows.Err())
	}

	return items, nil
}
