// Package connections owns mutual-match detection and the cross-lane
// pending state machine: one pair of users whose reciprocal accepts
// landed in different lanes, parked until one side picks the lane or the
// timeout picks it for them.
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/domain/enums"
	"github.com/waggleapp/backend/internal/domain/rules"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("pending connection not found")
	ErrNotAuthorized   = errors.New("user is not the chooser for this connection")
	ErrAlreadyResolved = errors.New("pending connection already resolved")
	ErrExpired         = errors.New("pending connection has expired")
	ErrDependenciesNil = errors.New("connections dependencies are not configured")
)

// resolvedBySystem marks sweeper resolutions in the audit columns.
const resolvedBySystem int64 = 0

type SwipeStore interface {
	AcceptExists(ctx context.Context, tx pgx.Tx, fromUserID, toUserID int64, lane enums.Lane) (bool, error)
	Upsert(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction, now time.Time) (pgrepo.SwipeRecord, error)
}

type PendingStore interface {
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, pair rules.PairKey, palsUserID, matchUserID int64, createdAt, expiresAt time.Time) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, pair rules.PairKey) (pgrepo.PendingConnectionRecord, error)
	ExistsPending(ctx context.Context, tx pgx.Tx, pair rules.PairKey) (bool, error)
	ListExpiredForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]pgrepo.PendingConnectionRecord, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, resolvedBy int64, at time.Time) (bool, error)
	ClearHeldMessage(ctx context.Context, tx pgx.Tx, pair rules.PairKey) error
	ListPendingForUser(ctx context.Context, userID int64) ([]pgrepo.PendingConnectionRecord, error)
}

type ConversationStore interface {
	ActivateConversation(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, now time.Time) (pgrepo.ConversationRecord, error)
	PromoteToActive(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, expectedRequesterID int64, now time.Time) (bool, error)
	AppendMessage(ctx context.Context, tx pgx.Tx, conversationID, senderID int64, body, clientMessageID string, now time.Time) (bool, error)
}

type Config struct {
	Policy rules.PendingPolicy
}

// Outcome is what an accept produced beyond the swipe row itself.
type Outcome struct {
	Matched        bool
	MatchedLane    enums.Lane
	PendingCreated bool
	PendingExpires time.Time
	// YouChoose is set on PendingCreated when the acting user is the one
	// who must pick the final lane.
	YouChoose bool
}

type PendingView struct {
	OtherUserID int64
	YouChoose   bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Resolution struct {
	OtherUserID    int64
	Lane           enums.Lane
	ConversationID int64
}

type Service struct {
	pool          *pgxpool.Pool
	swipes        SwipeStore
	pendings      PendingStore
	conversations ConversationStore
	logger        *zap.Logger
	cfg           Config
	now           func() time.Time
	runTx         func(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error
}

func NewService(pool *pgxpool.Pool, swipes SwipeStore, pendings PendingStore, conversations ConversationStore, logger *zap.Logger, cfg Config) *Service {
	cfg.Policy = cfg.Policy.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pool:          pool,
		swipes:        swipes,
		pendings:      pendings,
		conversations: conversations,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
		runTx:         pgrepo.WithTx,
	}
}

// ResolveAccept runs inside the swipe transaction, right after an accept
// is recorded. Same-lane reciprocity wins over cross-lane: if both hold,
// the pair matches in the accept's own lane and no pending row is made.
func (s *Service) ResolveAccept(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, now time.Time) (Outcome, error) {
	if viewerID <= 0 || candidateID <= 0 || viewerID == candidateID || !lane.Valid() {
		return Outcome{}, ErrValidation
	}
	if s.swipes == nil || s.pendings == nil || s.conversations == nil {
		return Outcome{}, ErrDependenciesNil
	}

	pair := rules.CanonicalPair(viewerID, candidateID)

	held, err := s.pendings.ExistsPending(ctx, tx, pair)
	if err != nil {
		return Outcome{}, fmt.Errorf("check pending connection: %w", err)
	}
	if held {
		return Outcome{}, nil
	}

	sameLane, err := s.swipes.AcceptExists(ctx, tx, candidateID, viewerID, lane)
	if err != nil {
		return Outcome{}, fmt.Errorf("check reciprocal accept: %w", err)
	}
	if sameLane {
		// A one-sided request thread from the other user becomes a live
		// match here; if no thread exists yet nothing is created.
		if _, err := s.conversations.PromoteToActive(ctx, tx, pair, lane, candidateID, now); err != nil {
			return Outcome{}, fmt.Errorf("promote matched conversation: %w", err)
		}
		return Outcome{Matched: true, MatchedLane: lane}, nil
	}

	crossLane, err := s.swipes.AcceptExists(ctx, tx, candidateID, viewerID, lane.Other())
	if err != nil {
		return Outcome{}, fmt.Errorf("check cross-lane accept: %w", err)
	}
	if !crossLane {
		return Outcome{}, nil
	}

	palsUserID, matchUserID := viewerID, candidateID
	if lane != enums.LanePals {
		palsUserID, matchUserID = candidateID, viewerID
	}

	expiresAt := s.cfg.Policy.ExpiresAt(now)
	created, err := s.pendings.CreateIfAbsent(ctx, tx, pair, palsUserID, matchUserID, now, expiresAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("create pending connection: %w", err)
	}
	if !created {
		return Outcome{}, nil
	}

	return Outcome{
		PendingCreated: true,
		PendingExpires: expiresAt,
		YouChoose:      s.cfg.Policy.ChooserLane == lane,
	}, nil
}

// Resolve lets the chooser pick the final lane for a pending connection.
func (s *Service) Resolve(ctx context.Context, userID, otherUserID int64, lane enums.Lane) (Resolution, error) {
	if userID <= 0 || otherUserID <= 0 || userID == otherUserID || !lane.Valid() {
		return Resolution{}, ErrValidation
	}
	if s.pool == nil || s.pendings == nil || s.conversations == nil {
		return Resolution{}, ErrDependenciesNil
	}

	pair := rules.CanonicalPair(userID, otherUserID)
	now := s.now().UTC()

	var out Resolution
	err := s.runTx(ctx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := s.pendings.GetForUpdate(txCtx, tx, pair)
		if err != nil {
			if errors.Is(err, pgrepo.ErrPendingNotFound) {
				return ErrNotFound
			}
			return err
		}

		if rec.Status != enums.PendingStatusPending {
			return ErrAlreadyResolved
		}
		if !now.Before(rec.ExpiresAt) {
			return ErrExpired
		}
		if s.chooserOf(rec) != userID {
			return ErrNotAuthorized
		}

		changed, err := s.pendings.MarkResolved(txCtx, tx, pair, lane, userID, now)
		if err != nil {
			return err
		}
		if !changed {
			return ErrAlreadyResolved
		}

		conv, err := s.finishResolution(txCtx, tx, rec, lane, now)
		if err != nil {
			return err
		}

		out = Resolution{
			OtherUserID:    pair.OtherOf(userID),
			Lane:           lane,
			ConversationID: conv.ID,
		}
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}

	s.logger.Info("pending connection resolved",
		zap.Int64("user_id", userID),
		zap.Int64("other_user_id", out.OtherUserID),
		zap.String("lane", string(out.Lane)),
	)

	return out, nil
}

// AutoResolve sweeps expired pending connections into the fallback lane.
// Returns the number resolved; batches are bounded so a backlog drains
// across ticks instead of one giant transaction.
func (s *Service) AutoResolve(ctx context.Context, batchSize int) (int, error) {
	if s.pool == nil || s.pendings == nil || s.conversations == nil {
		return 0, ErrDependenciesNil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	now := s.now().UTC()
	resolved := 0

	err := s.runTx(ctx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
		expired, err := s.pendings.ListExpiredForUpdate(txCtx, tx, now, batchSize)
		if err != nil {
			return err
		}

		for _, rec := range expired {
			changed, err := s.pendings.MarkResolved(txCtx, tx, rec.Pair(), s.cfg.Policy.AutoResolveLane, resolvedBySystem, now)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if _, err := s.finishResolution(txCtx, tx, rec, s.cfg.Policy.AutoResolveLane, now); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if resolved > 0 {
		s.logger.Info("auto-resolved expired pending connections", zap.Int("count", resolved))
	}

	return resolved, nil
}

// GetPending lists the user's live pending connections with the chooser
// flag the client needs to render the decision prompt.
func (s *Service) GetPending(ctx context.Context, userID int64) ([]PendingView, error) {
	if userID <= 0 {
		return nil, ErrValidation
	}
	if s.pendings == nil {
		return nil, ErrDependenciesNil
	}

	recs, err := s.pendings.ListPendingForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending connections: %w", err)
	}

	out := make([]PendingView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PendingView{
			OtherUserID: rec.Pair().OtherOf(userID),
			YouChoose:   s.chooserOf(rec) == userID,
			CreatedAt:   rec.CreatedAt,
			ExpiresAt:   rec.ExpiresAt,
		})
	}

	return out, nil
}

// finishResolution reconciles the swipe ledger into the chosen lane,
// activates its conversation and replays the held first message, if any.
func (s *Service) finishResolution(ctx context.Context, tx pgx.Tx, rec pgrepo.PendingConnectionRecord, lane enums.Lane, now time.Time) (pgrepo.ConversationRecord, error) {
	pair := rec.Pair()

	// The side that accepted in the other lane has no accept row in the
	// chosen one; write it so the pair reads as mutual there. This is a
	// reconciliation write, not a user action, so no quota is touched.
	for _, dir := range [][2]int64{{pair.Low, pair.High}, {pair.High, pair.Low}} {
		exists, err := s.swipes.AcceptExists(ctx, tx, dir[0], dir[1], lane)
		if err != nil {
			return pgrepo.ConversationRecord{}, fmt.Errorf("check accept for reconciliation: %w", err)
		}
		if exists {
			continue
		}
		if _, err := s.swipes.Upsert(ctx, tx, dir[0], dir[1], lane, enums.SwipeActionAccept, now); err != nil {
			return pgrepo.ConversationRecord{}, fmt.Errorf("reconcile accept into resolved lane: %w", err)
		}
	}

	conv, err := s.conversations.ActivateConversation(ctx, tx, pair, lane, now)
	if err != nil {
		return pgrepo.ConversationRecord{}, fmt.Errorf("activate resolved conversation: %w", err)
	}

	if rec.HeldClientMessageID != nil && rec.HeldSenderID != nil && rec.HeldBody != nil {
		if _, err := s.conversations.AppendMessage(ctx, tx, conv.ID, *rec.HeldSenderID, *rec.HeldBody, *rec.HeldClientMessageID, now); err != nil {
			return pgrepo.ConversationRecord{}, fmt.Errorf("replay held message: %w", err)
		}
		if err := s.pendings.ClearHeldMessage(ctx, tx, pair); err != nil {
			return pgrepo.ConversationRecord{}, fmt.Errorf("clear held message: %w", err)
		}
	}

	return conv, nil
}

func (s *Service) chooserOf(rec pgrepo.PendingConnectionRecord) int64 {
	if s.cfg.Policy.ChooserLane == enums.LanePals {
		return rec.PalsUserID
	}
	return rec.MatchUserID
}
