package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoActiveBoost = errors.New("no active boost session")

type BoostRepo struct {
	pool *pgxpool.Pool
}

func NewBoostRepo(pool *pgxpool.Pool) *BoostRepo {
	return &BoostRepo{pool: pool}
}

type BoostSessionRecord struct {
	ID        int64
	UserID    int64
	StartedAt time.Time
	EndsAt    time.Time
	Status    string
}

// EndExpired lazily closes sessions whose window has passed. Safe to call
// on every read or start; closed rows stay closed.
func (r *BoostRepo) EndExpired(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
UPDATE boost_sessions
SET status = 'ended'
WHERE user_id = $1 AND status = 'active' AND ends_at <= $2
`, userID, now.UTC()); err != nil {
		return fmt.Errorf("end expired boost sessions: %w", err)
	}

	return nil
}

// GetActiveForUpdate returns the user's live session under a row lock,
// enforcing the one-active-session invariant at start time.
func (r *BoostRepo) GetActiveForUpdate(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) (BoostSessionRecord, error) {
	if userID <= 0 {
		return BoostSessionRecord{}, fmt.Errorf("invalid user id")
	}
	if tx == nil {
		return BoostSessionRecord{}, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec BoostSessionRecord
	err := tx.QueryRow(ctx, `
SELECT id, user_id, started_at, ends_at, status
FROM boost_sessions
WHERE user_id = $1 AND status = 'active' AND ends_at > $2
ORDER BY ends_at DESC
LIMIT 1
FOR UPDATE
`, userID, now.UTC()).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.StartedAt,
		&rec.EndsAt,
		&rec.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BoostSessionRecord{}, ErrNoActiveBoost
		}
		return BoostSessionRecord{}, fmt.Errorf("get active boost session: %w", err)
	}

	return rec, nil
}

func (r *BoostRepo) Insert(ctx context.Context, tx pgx.Tx, userID int64, startedAt, endsAt time.Time) (BoostSessionRecord, error) {
	if userID <= 0 || !endsAt.After(startedAt) {
		return BoostSessionRecord{}, fmt.Errorf("invalid boost session payload")
	}
	if tx == nil {
		return BoostSessionRecord{}, fmt.Errorf("transaction is required")
	}

	var rec BoostSessionRecord
	err := tx.QueryRow(ctx, `
INSERT INTO boost_sessions (
	user_id,
	started_at,
	ends_at,
	status
) VALUES ($1, $2, $3, 'active')
RETURNING id, user_id, started_at, ends_at, status
`, userID, startedAt.UTC(), endsAt.UTC()).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.StartedAt,
		&rec.EndsAt,
		&rec.Status,
	)
	if err != nil {
		return BoostSessionRecord{}, fmt.Errorf("insert boost session: %w", err)
	}

	return rec, nil
}

// CloseExpired is the no-transaction variant of EndExpired for read
// paths; status checks call it so stale active rows do not linger until
// the next start.
func (r *BoostRepo) CloseExpired(ctx context.Context, userID int64, now time.Time) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE boost_sessions
SET status = 'ended'
WHERE user_id = $1 AND status = 'active' AND ends_at <= $2
`, userID, now.UTC()); err != nil {
		return fmt.Errorf("close expired boost sessions: %w", err)
	}

	return nil
}

// GetActive is the lock-free read used by status checks.
func (r *BoostRepo) GetActive(ctx context.Context, userID int64, now time.Time) (BoostSessionRecord, error) {
	if userID <= 0 {
		return BoostSessionRecord{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return BoostSessionRecord{}, ErrNoActiveBoost
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec BoostSessionRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, user_id, started_at, ends_at, status
FROM boost_sessions
WHERE user_id = $1 AND status = 'active' AND ends_at > $2
ORDER BY ends_at DESC
LIMIT 1
`, userID, now.UTC()).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.StartedAt,
		&rec.EndsAt,
		&rec.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BoostSessionRecord{}, ErrNoActiveBoost
		}
		return BoostSessionRecord{}, fmt.Errorf("get active boost session: %w", err)
	}

	return rec, nil
}
