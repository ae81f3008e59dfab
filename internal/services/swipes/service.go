package swipes

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
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	"github.com/waggleapp/backend/internal/services/userlock"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrSelfSwipe       = errors.New("cannot swipe on yourself")
	ErrDailyLimit      = errors.New("daily accepts limit reached")
	ErrBusy            = errors.New("another swipe for this user is in flight")
	ErrDependenciesNil = errors.New("swipes dependencies are not configured")
)

type SwipeStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane) (pgrepo.SwipeRecord, error)
	Upsert(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction, now time.Time) (pgrepo.SwipeRecord, error)
}

type QuotaStore interface {
	GetAcceptsUsed(ctx context.Context, userID int64, dayKey string, lane enums.Lane) (int, error)
	ConsumeAcceptWithLimit(ctx context.Context, tx pgx.Tx, userID int64, dayKey string, lane enums.Lane, limit int) (int, error)
}

type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID int64) (enums.PlanCode, error)
}

type Resolver interface {
	ResolveAccept(ctx context.Context, tx pgx.Tx, viewerID, candidateID int64, lane enums.Lane, now time.Time) (connsvc.Outcome, error)
}

type UserLocker interface {
	WithUserLock(ctx context.Context, userID int64, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Limits  rules.LimitTable
	LockTTL time.Duration
}

// DailyLimitError carries the cap and reset time so the client can show
// when swiping reopens.
type DailyLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e DailyLimitError) Error() string { return "daily accepts limit reached" }

func (e DailyLimitError) Is(target error) bool { return target == ErrDailyLimit }

// Result mirrors the submit contract: nil RemainingAccepts means the
// viewer's plan has no limit in this lane.
type Result struct {
	Action           enums.SwipeAction
	RemainingAccepts *int
	ResetAt          time.Time
	Connection       *connsvc.Outcome
}

type Service struct {
	pool     *pgxpool.Pool
	store    SwipeStore
	quota    QuotaStore
	plans    PlanResolver
	resolver Resolver
	locker   UserLocker
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
	runTx    func(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error
}

func NewService(pool *pgxpool.Pool, store SwipeStore, quota QuotaStore, plans PlanResolver, resolver Resolver, locker UserLocker, logger *zap.Logger, cfg Config) *Service {
	if cfg.Limits == (rules.LimitTable{}) {
		cfg.Limits = rules.DefaultLimits()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pool:     pool,
		store:    store,
		quota:    quota,
		plans:    plans,
		resolver: resolver,
		locker:   locker,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		runTx:    pgrepo.WithTx,
	}
}

// Submit records one swipe decision. The whole read-check-write section
// runs under the viewer's advisory lock and a single transaction, so two
// concurrent accepts cannot both pass the quota check on a stale read.
func (s *Service) Submit(ctx context.Context, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction) (Result, error) {
	if viewerID <= 0 || candidateID <= 0 || !lane.Valid() || !action.Valid() {
		return Result{}, ErrValidation
	}
	if viewerID == candidateID {
		return Result{}, ErrSelfSwipe
	}
	if s.pool == nil || s.store == nil || s.quota == nil || s.locker == nil {
		return Result{}, ErrDependenciesNil
	}

	var out Result
	err := s.locker.WithUserLock(ctx, viewerID, s.cfg.LockTTL, func(lockCtx context.Context) error {
		res, err := s.submitLocked(lockCtx, viewerID, candidateID, lane, action)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		if errors.Is(err, userlock.ErrBusy) {
			return Result{}, ErrBusy
		}
		return Result{}, err
	}

	return out, nil
}

func (s *Service) submitLocked(ctx context.Context, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction) (Result, error) {
	now := s.now().UTC()
	dayKey := rules.DayKeyUTC(now)

	plan, err := s.resolvePlan(ctx, viewerID)
	if err != nil {
		return Result{}, err
	}
	limit := s.cfg.Limits.DailyAcceptLimit(plan, lane)

	out := Result{Action: action, ResetAt: rules.NextResetAtUTC(now)}

	err = s.runTx(ctx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
		prior, err := s.store.GetForUpdate(txCtx, tx, viewerID, candidateID, lane)
		if err != nil && !errors.Is(err, pgrepo.ErrSwipeNotFound) {
			return err
		}
		newAccept := action == enums.SwipeActionAccept &&
			(errors.Is(err, pgrepo.ErrSwipeNotFound) || prior.Action != enums.SwipeActionAccept)

		used := 0
		if newAccept && limit != nil {
			used, err = s.quota.ConsumeAcceptWithLimit(txCtx, tx, viewerID, dayKey, lane, *limit)
			if err != nil {
				if errors.Is(err, pgrepo.ErrDailyAcceptLimit) {
					return DailyLimitError{Limit: *limit, ResetAt: out.ResetAt}
				}
				return err
			}
		} else if limit != nil {
			used, err = s.quota.GetAcceptsUsed(txCtx, viewerID, dayKey, lane)
			if err != nil {
				return err
			}
		}

		if _, err := s.store.Upsert(txCtx, tx, viewerID, candidateID, lane, action, now); err != nil {
			return err
		}

		if limit != nil {
			left := *limit - used
			if left < 0 {
				left = 0
			}
			out.RemainingAccepts = &left
		}

		if newAccept && s.resolver != nil {
			outcome, err := s.resolver.ResolveAccept(txCtx, tx, viewerID, candidateID, lane, now)
			if err != nil {
				return err
			}
			if outcome.Matched || outcome.PendingCreated {
				out.Connection = &outcome
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Debug("swipe recorded",
		zap.Int64("viewer_id", viewerID),
		zap.Int64("candidate_id", candidateID),
		zap.String("lane", string(lane)),
		zap.String("action", string(action)),
	)

	return out, nil
}

func (s *Service) resolvePlan(ctx context.Context, userID int64) (enums.PlanCode, error) {
	if s.plans == nil {
		return enums.PlanFree, nil
	}
	plan, err := s.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve plan: %w", err)
	}
	return plan, nil
}
