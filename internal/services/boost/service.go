package boost

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/waggleapp/backend/internal/domain/enums"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
	"github.com/waggleapp/backend/internal/services/userlock"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrAlreadyActive   = errors.New("boost session already active")
	ErrNoBoosts        = errors.New("no boost credits left")
	ErrBusy            = errors.New("another boost request for this user is in flight")
	ErrDependenciesNil = errors.New("boost dependencies are not configured")
)

type Store interface {
	EndExpired(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) error
	CloseExpired(ctx context.Context, userID int64, now time.Time) error
	GetActiveForUpdate(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) (pgrepo.BoostSessionRecord, error)
	Insert(ctx context.Context, tx pgx.Tx, userID int64, startedAt, endsAt time.Time) (pgrepo.BoostSessionRecord, error)
	GetActive(ctx context.Context, userID int64, now time.Time) (pgrepo.BoostSessionRecord, error)
}

type Charger interface {
	ConsumeInTx(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind) error
}

type UserLocker interface {
	WithUserLock(ctx context.Context, userID int64, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Duration time.Duration
	LockTTL  time.Duration
}

type Session struct {
	StartedAt time.Time
	EndsAt    time.Time
}

type Status struct {
	IsActive         bool
	RemainingSeconds int64
	EndsAt           *time.Time
}

// AlreadyActiveError carries the running session's end so the client can
// show it instead of a bare failure.
type AlreadyActiveError struct {
	EndsAt time.Time
}

func (e AlreadyActiveError) Error() string { return "boost session already active" }

func (e AlreadyActiveError) Is(target error) bool { return target == ErrAlreadyActive }

type Service struct {
	pool    *pgxpool.Pool
	store   Store
	charger Charger
	locker  UserLocker
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
}

func NewService(pool *pgxpool.Pool, store Store, charger Charger, locker UserLocker, logger *zap.Logger, cfg Config) *Service {
	if cfg.Duration <= 0 {
		cfg.Duration = 60 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pool:    pool,
		store:   store,
		charger: charger,
		locker:  locker,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start opens a boost session, spending one boost credit. A second call
// while a session runs returns AlreadyActiveError with the original end
// time and charges nothing.
func (s *Service) Start(ctx context.Context, userID int64) (Session, error) {
	if userID <= 0 {
		return Session{}, ErrValidation
	}
	if s.pool == nil || s.store == nil || s.charger == nil || s.locker == nil {
		return Session{}, ErrDependenciesNil
	}

	var out Session
	err := s.locker.WithUserLock(ctx, userID, s.cfg.LockTTL, func(lockCtx context.Context) error {
		return pgrepo.WithTx(lockCtx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
			now := s.now().UTC()

			if err := s.store.EndExpired(txCtx, tx, userID, now); err != nil {
				return err
			}

			active, err := s.store.GetActiveForUpdate(txCtx, tx, userID, now)
			if err == nil {
				return AlreadyActiveError{EndsAt: active.EndsAt}
			}
			if !errors.Is(err, pgrepo.ErrNoActiveBoost) {
				return err
			}

			if err := s.charger.ConsumeInTx(txCtx, tx, userID, enums.ConsumableBoost); err != nil {
				if errors.Is(err, pgrepo.ErrInsufficientBalance) || errors.Is(err, conssvc.ErrInsufficient) {
					return ErrNoBoosts
				}
				return err
			}

			rec, err := s.store.Insert(txCtx, tx, userID, now, now.Add(s.cfg.Duration))
			if err != nil {
				return err
			}

			out = Session{StartedAt: rec.StartedAt, EndsAt: rec.EndsAt}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, userlock.ErrBusy) {
			return Session{}, ErrBusy
		}
		return Session{}, err
	}

	s.logger.Info("boost session started",
		zap.Int64("user_id", userID),
		zap.Time("ends_at", out.EndsAt),
	)

	return out, nil
}

// GetStatus reports whether a session is live and how long it has left.
// Expired rows are closed on the way; no background timer ends sessions.
func (s *Service) GetStatus(ctx context.Context, userID int64) (Status, error) {
	if userID <= 0 {
		return Status{}, ErrValidation
	}
	if s.store == nil {
		return Status{}, ErrDependenciesNil
	}

	now := s.now().UTC()
	if err := s.store.CloseExpired(ctx, userID, now); err != nil {
		return Status{}, err
	}

	rec, err := s.store.GetActive(ctx, userID, now)
	if err != nil {
		if errors.Is(err, pgrepo.ErrNoActiveBoost) {
			return Status{}, nil
		}
		return Status{}, err
	}

	remaining := int64(rec.EndsAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	ends := rec.EndsAt

	return Status{IsActive: true, RemainingSeconds: remaining, EndsAt: &ends}, nil
}
