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

var ErrSwipeNotFound = errors.New("swipe not found")

// SwipeRepo owns the decision ledger: one row per
// (viewer, candidate, lane), overwritten on re-submission.
type SwipeRepo struct {
	pool *pgxpool.Pool
}

func NewSwipeRepo(pool *pgxpool.Pool) *SwipeRepo {
	return &SwipeRepo{pool: pool}
}

type SwipeRecord struct {
	ViewerUserID    int64
	CandidateUserID int64
	Lane            enums.Lane
	Action          enums.SwipeAction
	CreatedAt       time.Time
}

// GetForUpdate reads the existing decision under a row lock so the
// new-accept check and the upsert observe the same state.
func (r *SwipeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane) (SwipeRecord, error) {
	if viewerID <= 0 || candidateID <= 0 || !lane.Valid() {
		return SwipeRecord{}, fmt.Errorf("invalid swipe lookup payload")
	}
	if tx == nil {
		return SwipeRecord{}, fmt.Errorf("transaction is required")
	}

	var rec SwipeRecord
	err := tx.QueryRow(ctx, `
SELECT viewer_user_id, candidate_user_id, lane, action, created_at
FROM swipes
WHERE viewer_user_id = $1 AND candidate_user_id = $2 AND lane = $3
FOR UPDATE
`, viewerID, candidateID, string(lane)).Scan(
		&rec.ViewerUserID,
		&rec.CandidateUserID,
		&rec.Lane,
		&rec.Action,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SwipeRecord{}, ErrSwipeNotFound
		}
		return SwipeRecord{}, fmt.Errorf("get swipe for update: %w", err)
	}

	return rec, nil
}

// Upsert records the decision, last-write-wins on the unique key.
func (r *SwipeRepo) Upsert(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction, now time.Time) (SwipeRecord, error) {
	if viewerID <= 0 || candidateID <= 0 || !lane.Valid() {
		return SwipeRecord{}, fmt.Errorf("invalid swipe payload")
	}
	if tx == nil {
		return SwipeRecord{}, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var rec SwipeRecord
	err := tx.QueryRow(ctx, `
INSERT INTO swipes (
	viewer_user_id,
	candidate_user_id,
	lane,
	action,
	created_at
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (viewer_user_id, candidate_user_id, lane) DO UPDATE SET
	action = EXCLUDED.action,
	created_at = EXCLUDED.created_at
RETURNING viewer_user_id, candidate_user_id, lane, action, created_at
`, viewerID, candidateID, string(lane), string(action), now.UTC()).Scan(
		&rec.ViewerUserID,
		&rec.CandidateUserID,
		&rec.Lane,
		&rec.Action,
		&rec.CreatedAt,
	)
	if err != nil {
		return SwipeRecord{}, fmt.Errorf("upsert swipe: %w", err)
	}

	return rec, nil
}

// AcceptExists reports whether fromID has an accept recorded toward toID
// in the given lane. The resolver uses it for reverse-interest lookups.
func (r *SwipeRepo) AcceptExists(ctx context.Context, tx pgx.Tx, fromID, toID int64, lane enums.Lane) (bool, error) {
	if fromID <= 0 || toID <= 0 || !lane.Valid() {
		return false, fmt.Errorf("invalid accept lookup payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	var one int
	err := tx.QueryRow(ctx, `
SELECT 1
FROM swipes
WHERE viewer_user_id = $1
	AND candidate_user_id = $2
	AND lane = $3
	AND action = 'accept'
LIMIT 1
`, fromID, toID, string(lane)).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup reverse accept: %w", err)
	}

	return true, nil
}
