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
	"github.com/waggleapp/backend/internal/domain/rules"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// ConversationRepo covers the slice of the thread system this core is
// allowed to touch: creating threads, promoting request -> active, and
// appending messages idempotently. Thread internals live elsewhere.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

type ConversationRecord struct {
	ID              int64
	UserLowID       int64
	UserHighID      int64
	Lane            enums.Lane
	State           enums.ConversationState
	RequesterUserID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type MessageRecord struct {
	ID              int64
	ConversationID  int64
	SenderUserID    int64
	Body            string
	ClientMessageID string
	CreatedAt       time.Time
}

// EnsureConversation returns the thread for (pair, lane), creating it in
// the given state when absent. The insert is idempotent on the unique
// (pair, lane) key.
func (r *ConversationRepo) EnsureConversation(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, state enums.ConversationState, requesterID *int64, now time.Time) (ConversationRecord, error) {
	if pair.Low <= 0 || pair.High <= pair.Low || !lane.Valid() {
		return ConversationRecord{}, fmt.Errorf("invalid conversation payload")
	}
	if tx == nil {
		return ConversationRecord{}, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO conversations (
	user_low_id,
	user_high_id,
	lane,
	state,
	requester_user_id,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (user_low_id, user_high_id, lane) DO NOTHING
`, pair.Low, pair.High, string(lane), string(state), requesterID, now.UTC()); err != nil {
		return ConversationRecord{}, fmt.Errorf("ensure conversation: %w", err)
	}

	return r.getByPairLane(ctx, tx, pair, lane)
}

// PromoteToActive flips a request-state thread to active when the
// requester is the expected user. Returns false when nothing matched,
// which callers treat as "no promotion needed".
func (r *ConversationRepo) PromoteToActive(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, expectedRequesterID int64, now time.Time) (bool, error) {
	if pair.Low <= 0 || pair.High <= pair.Low || !lane.Valid() || expectedRequesterID <= 0 {
		return false, fmt.Errorf("invalid promote payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
UPDATE conversations
SET
	state = 'active',
	updated_at = $5
WHERE user_low_id = $1
	AND user_high_id = $2
	AND lane = $3
	AND state = 'request'
	AND requester_user_id = $4
`, pair.Low, pair.High, string(lane), expectedRequesterID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("promote conversation: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ActivateConversation forces the thread to active regardless of the
// requester; used by cross-lane resolution where both sides have accepted.
func (r *ConversationRepo) ActivateConversation(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, now time.Time) (ConversationRecord, error) {
	rec, err := r.EnsureConversation(ctx, tx, pair, lane, enums.ConversationStateActive, nil, now)
	if err != nil {
		return ConversationRecord{}, err
	}
	if rec.State == enums.ConversationStateActive {
		return rec, nil
	}

	if _, err := tx.Exec(ctx, `
UPDATE conversations
SET
	state = 'active',
	updated_at = $2
WHERE id = $1
`, rec.ID, now.UTC()); err != nil {
		return ConversationRecord{}, fmt.Errorf("activate conversation: %w", err)
	}
	rec.State = enums.ConversationStateActive

	return rec, nil
}

// AppendMessage inserts the message unless its client id was already
// stored. The returned flag tells the caller whether this transaction
// performed the write, which is what gates consumable charging.
func (r *ConversationRepo) AppendMessage(ctx context.Context, tx pgx.Tx, conversationID, senderID int64, body, clientMessageID string, now time.Time) (bool, error) {
	if conversationID <= 0 || senderID <= 0 || strings.TrimSpace(clientMessageID) == "" {
		return false, fmt.Errorf("invalid message payload")
	}
	if tx == nil {
		return false, fmt.Errorf("transaction is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO messages (
	conversation_id,
	sender_user_id,
	body,
	client_message_id,
	created_at
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (client_message_id) DO NOTHING
`, conversationID, senderID, body, strings.TrimSpace(clientMessageID), now.UTC())
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// FindMessageByClientID resolves a retry to its original outcome.
func (r *ConversationRepo) FindMessageByClientID(ctx context.Context, tx pgx.Tx, clientMessageID string) (MessageRecord, error) {
	if strings.TrimSpace(clientMessageID) == "" {
		return MessageRecord{}, fmt.Errorf("client message id is required")
	}
	if tx == nil {
		return MessageRecord{}, fmt.Errorf("transaction is required")
	}

	var rec MessageRecord
	err := tx.QueryRow(ctx, `
SELECT id, conversation_id, sender_user_id, body, client_message_id, created_at
FROM messages
WHERE client_message_id = $1
LIMIT 1
`, strings.TrimSpace(clientMessageID)).Scan(
		&rec.ID,
		&rec.ConversationID,
		&rec.SenderUserID,
		&rec.Body,
		&rec.ClientMessageID,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MessageRecord{}, ErrMessageNotFound
		}
		return MessageRecord{}, fmt.Errorf("find message by client id: %w", err)
	}

	return rec, nil
}

func (r *ConversationRepo) getByPairLane(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane) (ConversationRecord, error) {
	var rec ConversationRecord
	err := tx.QueryRow(ctx, `
SELECT id, user_low_id, user_high_id, lane, state, requester_user_id, created_at, updated_at
FROM conversations
WHERE user_low_id = $1 AND user_high_id = $2 AND lane = $3
LIMIT 1
`, pair.Low, pair.High, string(lane)).Scan(
		&rec.ID,
		&rec.UserLowID,
		&rec.UserHighID,
		&rec.Lane,
		&rec.State,
		&rec.RequesterUserID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConversationRecord{}, ErrConversationNotFound
		}
		return ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}

	return rec, nil
}
