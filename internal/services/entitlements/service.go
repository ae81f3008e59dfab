package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waggleapp/backend/internal/domain/enums"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrDependenciesNil = errors.New("entitlements dependencies are not configured")
)

type Store interface {
	Get(ctx context.Context, userID int64) (pgrepo.EntitlementRecord, error)
	ExtendPlus(ctx context.Context, userID int64, period time.Duration, now time.Time) (pgrepo.EntitlementRecord, error)
	CancelPlus(ctx context.Context, userID int64, now time.Time) error
}

type Config struct {
	PlusPeriod time.Duration
}

type Snapshot struct {
	PlanCode  enums.PlanCode
	ExpiresAt *time.Time
}

type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	if cfg.PlusPeriod <= 0 {
		cfg.PlusPeriod = 30 * 24 * time.Hour
	}

	return &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// EffectivePlan is what the rest of the system keys limits off. An
// expired plus record reads as free without being rewritten.
func (s *Service) EffectivePlan(ctx context.Context, userID int64) (enums.PlanCode, error) {
	snap, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return snap.PlanCode, nil
}

func (s *Service) Get(ctx context.Context, userID int64) (Snapshot, error) {
	if userID <= 0 {
		return Snapshot{}, ErrValidation
	}
	if s.store == nil {
		return Snapshot{}, ErrDependenciesNil
	}

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get entitlement: %w", err)
	}

	if rec.PlanCode == enums.PlanPlus && rec.ExpiresAt != nil && !rec.ExpiresAt.After(s.now().UTC()) {
		return Snapshot{PlanCode: enums.PlanFree}, nil
	}

	return Snapshot{PlanCode: rec.PlanCode, ExpiresAt: rec.ExpiresAt}, nil
}

// PurchasePlus activates or extends the plus subscription. Payment
// authorization happens upstream; this only applies the grant.
func (s *Service) PurchasePlus(ctx context.Context, userID int64) (Snapshot, error) {
	if userID <= 0 {
		return Snapshot{}, ErrValidation
	}
	if s.store == nil {
		return Snapshot{}, ErrDependenciesNil
	}

	rec, err := s.store.ExtendPlus(ctx, userID, s.cfg.PlusPeriod, s.now().UTC())
	if err != nil {
		return Snapshot{}, fmt.Errorf("extend plus: %w", err)
	}

	return Snapshot{PlanCode: rec.PlanCode, ExpiresAt: rec.ExpiresAt}, nil
}

// Cancel downgrades to free immediately. Idempotent: cancelling a free
// user is a no-op success.
func (s *Service) Cancel(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrValidation
	}
	if s.store == nil {
		return ErrDependenciesNil
	}

	if err := s.store.CancelPlus(ctx, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("cancel plus: %w", err)
	}

	return nil
}
