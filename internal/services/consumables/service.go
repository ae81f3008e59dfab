package consumables

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
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrInsufficient    = errors.New("insufficient consumable balance")
	ErrDependenciesNil = errors.New("consumables dependencies are not configured")
)

type Store interface {
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, includedTotal int, period time.Duration, now time.Time) (pgrepo.ConsumableBalanceRecord, error)
	ApplyRenewal(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, includedTotal, includedRemaining int, renewsAt time.Time, period time.Duration) error
	ConsumeOne(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind) error
	CreditPurchased(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, quantity int) error
	RecordPurchase(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, quantity int, idempotencyKey string, now time.Time) (bool, error)
	ListForUser(ctx context.Context, userID int64) ([]pgrepo.ConsumableBalanceRecord, error)
}

type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID int64) (enums.PlanCode, error)
}

// Allotment is the plan-dependent included grant for one kind.
type Allotment struct {
	FreeIncluded int
	PlusIncluded int
	Period       time.Duration
}

func (a Allotment) IncludedFor(plan enums.PlanCode) int {
	if plan == enums.PlanPlus {
		return a.PlusIncluded
	}
	return a.FreeIncluded
}

type Config struct {
	Allotments map[enums.ConsumableKind]Allotment
}

type Balance struct {
	Kind              enums.ConsumableKind
	Purchased         int
	IncludedRemaining int
	Total             int
	RenewsAt          time.Time
}

type Service struct {
	pool  *pgxpool.Pool
	store Store
	plans PlanResolver
	cfg   Config
	now   func() time.Time
}

func NewService(pool *pgxpool.Pool, store Store, plans PlanResolver, cfg Config) *Service {
	if cfg.Allotments == nil {
		cfg.Allotments = map[enums.ConsumableKind]Allotment{
			enums.ConsumableCompliment: {FreeIncluded: 1, PlusIncluded: 5, Period: 7 * 24 * time.Hour},
			enums.ConsumableBoost:      {FreeIncluded: 0, PlusIncluded: 1, Period: 30 * 24 * time.Hour},
		}
	}

	return &Service{
		pool:  pool,
		store: store,
		plans: plans,
		cfg:   cfg,
		now:   time.Now,
	}
}

// GetMine returns current balances for every kind, materializing rows the
// user has never touched so the client always sees the full set.
func (s *Service) GetMine(ctx context.Context, userID int64) ([]Balance, error) {
	if userID <= 0 {
		return nil, ErrValidation
	}
	if s.pool == nil || s.store == nil {
		return nil, ErrDependenciesNil
	}

	plan, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []Balance
	err = pgrepo.WithTx(ctx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
		out = out[:0]
		for _, kind := range []enums.ConsumableKind{enums.ConsumableBoost, enums.ConsumableCompliment} {
			rec, err := s.settle(txCtx, tx, userID, kind, plan)
			if err != nil {
				return err
			}
			out = append(out, Balance{
				Kind:              rec.Kind,
				Purchased:         rec.PurchasedBalance,
				IncludedRemaining: rec.IncludedRemaining,
				Total:             rec.Balance(),
				RenewsAt:          rec.RenewsAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Purchase credits quantity units idempotently. Retries with the same key
// return the current balance without crediting twice.
func (s *Service) Purchase(ctx context.Context, userID int64, kind enums.ConsumableKind, quantity int, idempotencyKey string) (Balance, error) {
	if userID <= 0 || !kind.Valid() || quantity <= 0 || strings.TrimSpace(idempotencyKey) == "" {
		return Balance{}, ErrValidation
	}
	if s.pool == nil || s.store == nil {
		return Balance{}, ErrDependenciesNil
	}

	plan, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return Balance{}, err
	}

	var out Balance
	err = pgrepo.WithTx(ctx, s.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := s.settle(txCtx, tx, userID, kind, plan)
		if err != nil {
			return err
		}

		inserted, err := s.store.RecordPurchase(txCtx, tx, userID, kind, quantity, idempotencyKey, s.now().UTC())
		if err != nil {
			return err
		}
		if inserted {
			if err := s.store.CreditPurchased(txCtx, tx, userID, kind, quantity); err != nil {
				return err
			}
			rec.PurchasedBalance += quantity
		}

		out = Balance{
			Kind:              rec.Kind,
			Purchased:         rec.PurchasedBalance,
			IncludedRemaining: rec.IncludedRemaining,
			Total:             rec.Balance(),
			RenewsAt:          rec.RenewsAt,
		}
		return nil
	})
	if err != nil {
		return Balance{}, err
	}

	return out, nil
}

// ConsumeInTx spends one unit inside the caller's transaction, included
// allotment first. Callers hold the per-user lock, so the settle +
// consume pair cannot interleave with another spend for the same user.
func (s *Service) ConsumeInTx(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind) error {
	if userID <= 0 || !kind.Valid() {
		return ErrValidation
	}
	if s.store == nil {
		return ErrDependenciesNil
	}

	plan, err := s.resolvePlan(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := s.settle(ctx, tx, userID, kind, plan); err != nil {
		return err
	}

	if err := s.store.ConsumeOne(ctx, tx, userID, kind); err != nil {
		if errors.Is(err, pgrepo.ErrInsufficientBalance) {
			return ErrInsufficient
		}
		return err
	}

	return nil
}

// settle locks the balance row and applies any overdue renewal. Multiple
// missed periods collapse into a single fresh grant at the caught-up
// boundary; unused included units do not roll over.
func (s *Service) settle(ctx context.Context, tx pgx.Tx, userID int64, kind enums.ConsumableKind, plan enums.PlanCode) (pgrepo.ConsumableBalanceRecord, error) {
	allot, ok := s.cfg.Allotments[kind]
	if !ok {
		return pgrepo.ConsumableBalanceRecord{}, fmt.Errorf("no allotment configured for kind %q", kind)
	}

	now := s.now().UTC()
	included := allot.IncludedFor(plan)

	rec, err := s.store.EnsureForUpdate(ctx, tx, userID, kind, included, allot.Period, now)
	if err != nil {
		return pgrepo.ConsumableBalanceRecord{}, err
	}

	nextRenews, due := rules.AdvanceRenewal(rec.RenewsAt, allot.Period, now)
	if !due && rec.IncludedTotal == included {
		return rec, nil
	}

	if due {
		rec.IncludedRemaining = included
		rec.RenewsAt = nextRenews
	} else if rec.IncludedRemaining > included {
		// Plan downgrade mid-period: clamp rather than let free users
		// keep a plus-sized allotment.
		rec.IncludedRemaining = included
	}
	rec.IncludedTotal = included
	rec.RenewalPeriod = allot.Period

	if err := s.store.ApplyRenewal(ctx, tx, userID, kind, included, rec.IncludedRemaining, rec.RenewsAt, allot.Period); err != nil {
		return pgrepo.ConsumableBalanceRecord{}, err
	}

	return rec, nil
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
