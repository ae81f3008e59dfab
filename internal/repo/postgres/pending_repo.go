package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
	"github.com/waggleapp/backend/internal/domain/rules"
)

var ErrPendingNotFound = errors.New("pending connection not found")

// PendingRepo persists cross-lane pending connections, one row per
// canonical unordered pair.
type PendingRepo struct {
	pool *pgxpool.Pool
}

func NewPendingRepo(pool *pgxpool.Pool) *PendingRepo {
	return &PendingRepo{pool: pool}
}

type PendingConnectionRecord struct {
	UserLowID           int64
	UserHighID          int64
	PalsUserID          int64
	MatchUserID         int64
	Status              enums.PendingStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ResolvedLane        *enums.Lane
	ResolvedAt          *time.Time
	ResolvedBy          *int64
	HeldSenderID        *int64
	HeldBody            *string
	HeldClientMessageID *string
}

func (rec PendingConnectionRecord) Pair() rules.PairKey {
	return rules.PairKey{Low: rec.UserLowID, High: rec.UserHighID}
}

// CreateIfAbsent inserts the pending row for the pair unless one already
// exists. Duplicate attempts are no-ops, which is what makes concurrent
// cross-lane detection safe.
func (r *PendingRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, pair rules.PairKey, palsUserID, matchUserID int64, createdAt, expiresAt time.Time) (bool, error) {
	if pair.Low <= 0 || pair.High <= pair.Low {
		return false, fmt.Errorf("invalid pair key")
	}
	if !pair.Contains(palsUserID) || !pair.Contains(matchUserID) || palsUserID == matchUserID {
		return false, fmt.Errorf("pending participants must be the pair members")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO pending_connections (
	user_low_id,
	user_high_id,
	pals_user_id,
	match_user_id,
	status,
	created_at,
	expires_at
) VALUES ($1, $2, $3, $4, 'pending', $5, $6)
ON CONFLICT (user_low_id, user_high_id) DO NOTHING
`, pair.Low, pair.High, palsUserID, matchUserID, createdAt.UTC(), expiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("create pending connection: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *PendingRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, pair rules.PairKey) (PendingConnectionRecord, error) {
	if pair.Low <= 0 || pair.High <= pair.Low {
		return PendingConnectionRecord{}, fmt.Errorf("invalid pair key")
	}
	if tx == nil {
		return PendingConnectionRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanPending(tx.QueryRow(ctx, `
SELECT
	user_low_id, user_high_id, pals_user_id, match_user_id, status,
	created_at, expires_at, resolved_lane, resolved_at, resolved_by,
	held_sender_id, held_body, held_client_message_id
FROM pending_connections
WHERE user_low_id = $1 AND user_high_id = $2
FOR UPDATE
`, pair.Low, pair.High))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingConnectionRecord{}, ErrPendingNotFound
		}
		return PendingConnectionRecord{}, fmt.Errorf("get pending connection for update: %w", err)
	}

	return rec, nil
}

// Exists reports whether any row (pending or resolved) is present for the
// pair without taking a lock.
func (r *PendingRepo) ExistsPending(ctx context.Context, tx pgx.Tx, pair rules.PairKey) (bool, error) {
	if pair.Low <= 0 || pair.High <= pair.Low {
		return false, fmt.Errorf("invalid pair key")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	var one int
	err := tx.QueryRow(ctx, `
SELECT 1
FROM pending_connections
WHERE user_low_id = $1 AND user_high_id = $2 AND status = 'pending'
LIMIT 1
`, pair.Low, pair.High).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup pending connection: %w", err)
	}

	return true, nil
}

// ListExpiredForUpdate selects up to limit expired pending rows, skipping
// rows another sweep worker already holds, so concurrent sweeps never
// double-resolve.
func (r *PendingRepo) ListExpiredForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]PendingConnectionRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := tx.Query(ctx, `
SELECT
	user_low_id, user_high_id, pals_user_id, match_user_id, status,
	created_at, expires_at, resolved_lane, resolved_at, resolved_by,
	held_sender_id, held_body, held_client_message_id
FROM pending_connections
WHERE status = 'pending' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending connections: %w", err)
	}
	defer rows.Close()

	items := make([]PendingConnectionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired pending connection: %w", err)
		}
		items = append(items, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate expired pending connections: %w", rows.Err())
	}

	return items, nil
}

// MarkResolved transitions pending -> resolved. The WHERE guard makes the
// transition single-shot: a concurrent resolver that lost the race sees
// zero rows affected.
func (r *PendingRepo) MarkResolved(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, resolvedBy int64, at time.Time) (bool, error) {
	if pair.Low <= 0 || pair.High <= pair.Low || !lane.Valid() {
		return false, fmt.Errorf("invalid resolve payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	tag, err := tx.Exec(ctx, `
UPDATE pending_connections
SET
	status = 'resolved',
	resolved_lane = $3,
	resolved_by = $4,
	resolved_at = $5
WHERE user_low_id = $1 AND user_high_id = $2 AND status = 'pending'
`, pair.Low, pair.High, string(lane), resolvedBy, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark pending connection resolved: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// HoldMessage stores the first message on the pending row until resolution
// delivers it. Only the first distinct client message is held; a retry with
// the same client id is a no-op reported as unchanged.
func (r *PendingRepo) HoldMessage(ctx context.Context, tx pgx.Tx, pair rules.PairKey, senderID int64, body, clientMessageID string) (bool, error) {
	if pair.Low <= 0 || pair.High <= pair.Low || senderID <= 0 {
		return false, fmt.Errorf("invalid held message payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}

	tag, err := tx.Exec(ctx, `
UPDATE pending_connections
SET
	held_sender_id = $3,
	held_body = $4,
	held_client_message_id = $5
WHERE user_low_id = $1
	AND user_high_id = $2
	AND status = 'pending'
	AND held_client_message_id IS NULL
`, pair.Low, pair.High, senderID, body, clientMessageID)
	if err != nil {
		return false, fmt.Errorf("hold message on pending connection: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ClearHeldMessage drops the held payload after it has been replayed into
// the conversation.
func (r *PendingRepo) ClearHeldMessage(ctx context.Context, tx pgx.Tx, pair rules.PairKey) error {
	if pair.Low <= 0 || pair.High <= pair.Low {
		return fmt.Errorf("invalid pair key")
	}
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	if _, err := tx.Exec(ctx, `
UPDATE pending_connections
SET
	held_sender_id = NULL,
	held_body = NULL,
	held_client_message_id = NULL
WHERE user_low_id = $1 AND user_high_id = $2
`, pair.Low, pair.High); err != nil {
		return fmt.Errorf("clear held message: %w", err)
	}

	return nil
}

func (r *PendingRepo) ListPendingForUser(ctx context.Context, userID int64) ([]PendingConnectionRecord, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return []PendingConnectionRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT
	user_low_id, user_high_id, pals_user_id, match_user_id, status,
	created_at, expires_at, resolved_lane, resolved_at, resolved_by,
	held_sender_id, held_body, held_client_message_id
FROM pending_connections
WHERE status = 'pending'
	AND (user_low_id = $1 OR user_high_id = $1)
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending connections for user: %w", err)
	}
	defer rows.Close()

	items := make([]PendingConnectionRecord, 0, 4)
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending connection: %w", err)
		}
		items = append(items, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate pending connections: %w", rows.Err())
	}

	return items, nil
}

func scanPending(row pgx.Row) (PendingConnectionRecord, error) {
	var (
		rec          PendingConnectionRecord
		resolvedLane *string
	)
	err := row.Scan(
		&rec.UserLowID,
		&rec.UserHighID,
		&rec.PalsUserID,
		&rec.MatchUserID,
		&rec.Status,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&resolvedLane,
		&rec.ResolvedAt,
		&rec.ResolvedBy,
		&rec.HeldSenderID,
		&rec.HeldBody,
		&rec.HeldClientMessageID,
	)
	if err != nil {
		return PendingConnectionRecord{}, err
	}
	if resolvedLane != nil {
		lane := enums.Lane(*resolvedLane)
		rec.ResolvedLane = &lane
	}
	return rec, nil
}
