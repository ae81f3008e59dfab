// Package compliments implements the accept-plus-message send: an accept
// recorded outside the daily quota, paid for with a compliment credit.
package compliments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/domain/enums"
	"github.com/waggleapp/backend/internal/domain/rules"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
	"github.com/waggleapp/backend/internal/services/userlock"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrSelfTarget      = errors.New("cannot send a chat request to yourself")
	ErrNoCompliments   = errors.New("no compliment credits left")
	ErrBusy            = errors.New("another request for this user is in flight")
	ErrDependenciesNil = errors.New("compliments dependencies are not configured")
)

const maxBodyLen = 1000

type SwipeStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane) (pgrepo.SwipeRecord, error)
	Upsert(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction, now time.Time) (pgrepo.SwipeRecord, error)
	AcceptExists(ctx context.Context, tx pgx.Tx, fromUserID, toUserID int64, lane enums.Lane) (bool, error)
}

type PendingStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, pair rules.PairKey) (pgrepo.PendingConnectionRecord, error)
	HoldMessage(ctx context.Context, tx pgx.Tx, pair rules.PairKey, senderID int64, body, clientMessageID string) (bool, error)
}

type ConversationStore interface {
	EnsureConversation(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, state enums.ConversationState, requesterID *int64, now time.Time) (pgrepo.ConversationRecord, error)
	ActivateConversation(ctx context.Context, tx pgx.Tx, pair rules.PairKey, lane enums.Lane, now time.Time) (pgrepo.ConversationRecord, error)
	AppendMessage(ctx context.Context, tx pgx.Tx, conversationID, senderID int64, body, clientMessageID string, now time.Time) (bool, error)
	FindMessageByClientID(ctx context.Context, tx pgx.Tx, clientMessageID string) (pgrepo.MessageRecord, error)
}

type Charger interface {
	ConsumeInTx(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind) error
}

type Resolver interface {
	ResolveAccept(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, now time.Time) (connsvc.Outcome, error)
}

type UserLocker interface {
	WithUserLock(ctx context.Context, userID int64, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	LockTTL time.Duration
}

type Result struct {
	ConversationID   *int64
	CrossLanePending bool
	// MessageAlreadyHeld reports that a different first message is
	// already parked on the pending row, so this body was not stored
	// and nothing was charged.
	MessageAlreadyHeld bool
	Connection         *connsvc.Outcome
}

type Service struct {
	pool          *pgxpool.Pool
	swipes        SwipeStore
	pendings      PendingStore
	conversations ConversationStore
	charger       Charger
	resolver      Resolver
	locker        UserLocker
	logger        *zap.Logger
	cfg           Config
	now           func() time.Time
}

func NewService(pool *pgxpool.Pool, swipes SwipeStore, pendings PendingStore, conversations ConversationStore, charger Charger, resolver Resolver, locker UserLocker, logger *zap.Logger, cfg Config) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pool:          pool,
		swipes:        swipes,
		pendings:      pendings,
		conversations: conversations,
		charger:       charger,
		resolver:      resolver,
		locker:        locker,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Send records an accept toward target and delivers (or holds) the first
// message. Idempotent on clientMessageID: a retry returns the original
// outcome and the compliment credit is charged at most once, on the
// transaction that actually stored the message.
func (s *Service) Send(ctx context.Context, senderID, targetID int64, lane enums.Lane, body, clientMessageID string) (Result, error) {
	body = strings.TrimSpace(body)
	clientMessageID = strings.TrimSpace(clientMessageID)

	if senderID <= 0 || targetID <= 0 || !lane.Valid() || body == "" || len(body) > maxBodyLen || clientMessageID == "" {
		return Result{}, ErrValidation
	}
	if senderID == targetID {
		return Result{}, ErrSelfTarget
	}
	if s.pool == nil || s.swipes == nil || s.pendings == nil || s.conversations == nil || s.charger == nil || s.locker == nil {
		return Result{}, ErrDependenciesNil
	}

	var out Result
	err := s.locker.WithUserLock(ctx, senderID, s.cfg.LockTTL, func(lockCtx context.Context) error {
		return pgrepo.WithTx(lockCtx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
			res, err := s.sendInTx(txCtx, tx, senderID, targetID, lane, body, clientMessageID)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, userlock.ErrBusy) {
			return Result{}, ErrBusy
		}
		return Result{}, err
	}

	return out, nil
}

func (s *Service) sendInTx(ctx context.Context, tx pgx.Tx, senderID, targetID int64, lane enums.Lane, body, clientMessageID string) (Result, error) {
	now := s.now().UTC()
	pair := rules.CanonicalPair(senderID, targetID)

	// Retry short-circuits: the message was already delivered, or is
	// already held on the pending row. Neither charges again.
	if msg, err := s.conversations.FindMessageByClientID(ctx, tx, clientMessageID); err == nil {
		return Result{ConversationID: &msg.ConversationID}, nil
	} else if !errors.Is(err, pgrepo.ErrMessageNotFound) {
		return Result{}, err
	}

	pendingRec, err := s.pendings.GetForUpdate(ctx, tx, pair)
	pendingOpen := false
	if err == nil {
		pendingOpen = pendingRec.Status == enums.PendingStatusPending
	} else if !errors.Is(err, pgrepo.ErrPendingNotFound) {
		return Result{}, err
	}
	if pendingOpen && pendingRec.HeldClientMessageID != nil && *pendingRec.HeldClientMessageID == clientMessageID {
		return Result{CrossLanePending: true}, nil
	}

	prior, err := s.swipes.GetForUpdate(ctx, tx, senderID, targetID, lane)
	if err != nil && !errors.Is(err, pgrepo.ErrSwipeNotFound) {
		return Result{}, err
	}
	newAccept := errors.Is(err, pgrepo.ErrSwipeNotFound) || prior.Action != enums.SwipeActionAccept

	if _, err := s.swipes.Upsert(ctx, tx, senderID, targetID, lane, enums.SwipeActionAccept, now); err != nil {
		return Result{}, err
	}

	out := Result{}
	if newAccept && s.resolver != nil {
		outcome, err := s.resolver.ResolveAccept(ctx, tx, senderID, targetID, lane, now)
		if err != nil {
			return Result{}, err
		}
		if outcome.Matched || outcome.PendingCreated {
			out.Connection = &outcome
		}
		if outcome.PendingCreated {
			pendingOpen = true
		}
	}

	if pendingOpen {
		held, err := s.pendings.HoldMessage(ctx, tx, pair, senderID, body, clientMessageID)
		if err != nil {
			return Result{}, err
		}
		if held {
			if err := s.charge(ctx, tx, senderID); err != nil {
				return Result{}, err
			}
		} else {
			out.MessageAlreadyHeld = true
		}
		out.CrossLanePending = true
		return out, nil
	}

	mutual, err := s.swipes.AcceptExists(ctx, tx, targetID, senderID, lane)
	if err != nil {
		return Result{}, err
	}

	var conv pgrepo.ConversationRecord
	if mutual {
		conv, err = s.conversations.ActivateConversation(ctx, tx, pair, lane, now)
	} else {
		conv, err = s.conversations.EnsureConversation(ctx, tx, pair, lane, enums.ConversationStateRequest, &senderID, now)
	}
	if err != nil {
		return Result{}, err
	}

	appended, err := s.conversations.AppendMessage(ctx, tx, conv.ID, senderID, body, clientMessageID, now)
	if err != nil {
		return Result{}, err
	}
	if appended {
		if err := s.charge(ctx, tx, senderID); err != nil {
			return Result{}, err
		}
	}

	out.ConversationID = &conv.ID
	return out, nil
}

func (s *Service) charge(ctx context.Context, tx pgx.Tx, userID int64) error {
	err := s.charger.ConsumeInTx(ctx, tx, userID, enums.ConsumableCompliment)
	if err != nil {
		if errors.Is(err, pgrepo.ErrInsufficientBalance) || errors.Is(err, conssvc.ErrInsufficient) {
			return ErrNoCompliments
		}
		return err
	}
	return nil
}
