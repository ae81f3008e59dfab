package consumables

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/waggleapp/backend/internal/domain/enums"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
)

type storeStub struct {
	rec pgrepo.ConsumableBalanceRecord

	renewals      int
	lastRemaining int
	lastRenewsAt  time.Time

	consumeErr error
	consumed   int
}

func (s *storeStub) EnsureForUpdate(_ context.Context, _ pgx.Tx, userID int64, kind enums.ConsumableKind, includedTotal int, period time.Duration, now time.Time) (pgrepo.ConsumableBalanceRecord, error) {
	if s.rec.UserID == 0 {
		s.rec = pgrepo.ConsumableBalanceRecord{
			UserID:            userID,
			Kind:              kind,
			IncludedTotal:     includedTotal,
			IncludedRemaining: includedTotal,
			RenewsAt:          now.Add(period),
			RenewalPeriod:     period,
		}
	}
	return s.rec, nil
}

func (s *storeStub) ApplyRenewal(_ context.Context, _ pgx.Tx, _ int64, _ enums.ConsumableKind, includedTotal, includedRemaining int, renewsAt time.Time, period time.Duration) error {
	s.renewals++
	s.lastRemaining = includedRemaining
	s.lastRenewsAt = renewsAt
	s.rec.IncludedTotal = includedTotal
	s.rec.IncludedRemaining = includedRemaining
	s.rec.RenewsAt = renewsAt
	s.rec.RenewalPeriod = period
	return nil
}

func (s *storeStub) ConsumeOne(context.Context, pgx.Tx, int64, enums.ConsumableKind) error {
	if s.consumeErr != nil {
		return s.consumeErr
	}
	s.consumed++
	return nil
}

func (s *storeStub) CreditPurchased(context.Context, pgx.Tx, int64, enums.ConsumableKind, int) error {
	return nil
}

func (s *storeStub) RecordPurchase(context.Context, pgx.Tx, int64, enums.ConsumableKind, int, string, time.Time) (bool, error) {
	return true, nil
}

func (s *storeStub) ListForUser(context.Context, int64) ([]pgrepo.ConsumableBalanceRecord, error) {
	return []pgrepo.ConsumableBalanceRecord{s.rec}, nil
}

type planStub struct {
	plan enums.PlanCode
}

func (s planStub) EffectivePlan(context.Context, int64) (enums.PlanCode, error) {
	return s.plan, nil
}

func buildService(store *storeStub, plan enums.PlanCode, now time.Time) *Service {
	svc := NewService(nil, store, planStub{plan: plan}, Config{
		Allotments: map[enums.ConsumableKind]Allotment{
			enums.ConsumableCompliment: {FreeIncluded: 1, PlusIncluded: 5, Period: 7 * 24 * time.Hour},
			enums.ConsumableBoost:      {FreeIncluded: 0, PlusIncluded: 1, Period: 30 * 24 * time.Hour},
		},
	})
	svc.now = func() time.Time { return now }
	return svc
}

func TestConsumeSettlesOverdueRenewalFirst(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)
	boundary := now.Add(-36 * time.Hour)

	store := &storeStub{
		rec: pgrepo.ConsumableBalanceRecord{
			UserID:            101,
			Kind:              enums.ConsumableCompliment,
			IncludedTotal:     5,
			IncludedRemaining: 0,
			RenewsAt:          boundary,
			RenewalPeriod:     7 * 24 * time.Hour,
		},
	}
	svc := buildService(store, enums.PlanPlus, now)

	if err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableCompliment); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if store.renewals != 1 {
		t.Fatalf("expected one renewal write, got %d", store.renewals)
	}
	if store.lastRemaining != 5 {
		t.Fatalf("renewal must re-credit the full allotment, got %d", store.lastRemaining)
	}
	// The next boundary stays aligned to the original schedule.
	if want := boundary.Add(7 * 24 * time.Hour); !store.lastRenewsAt.Equal(want) {
		t.Fatalf("unexpected next boundary: got %v want %v", store.lastRenewsAt, want)
	}
	if store.consumed != 1 {
		t.Fatalf("expected one unit consumed, got %d", store.consumed)
	}
}

func TestConsumeManyMissedPeriodsGrantOnce(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)
	period := 7 * 24 * time.Hour
	boundary := now.Add(-5 * period).Add(-3 * time.Hour)

	store := &storeStub{
		rec: pgrepo.ConsumableBalanceRecord{
			UserID:            101,
			Kind:              enums.ConsumableCompliment,
			IncludedTotal:     1,
			IncludedRemaining: 0,
			RenewsAt:          boundary,
			RenewalPeriod:     period,
		},
	}
	svc := buildService(store, enums.PlanFree, now)

	if err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableCompliment); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if store.lastRemaining != 1 {
		t.Fatalf("a returning user gets one fresh allotment, got %d", store.lastRemaining)
	}
	if want := boundary.Add(6 * period); !store.lastRenewsAt.Equal(want) {
		t.Fatalf("boundary must catch up past now: got %v want %v", store.lastRenewsAt, want)
	}
}

func TestSettleClampsAfterPlanDowngrade(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	store := &storeStub{
		rec: pgrepo.ConsumableBalanceRecord{
			UserID:            101,
			Kind:              enums.ConsumableCompliment,
			IncludedTotal:     5,
			IncludedRemaining: 4,
			RenewsAt:          now.Add(48 * time.Hour),
			RenewalPeriod:     7 * 24 * time.Hour,
		},
	}
	svc := buildService(store, enums.PlanFree, now)

	if err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableCompliment); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if store.renewals != 1 || store.lastRemaining != 1 {
		t.Fatalf("downgraded plan must clamp to the free allotment, got remaining=%d (%d writes)", store.lastRemaining, store.renewals)
	}
}

func TestSettleSkipsWriteWhenCurrent(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	store := &storeStub{
		rec: pgrepo.ConsumableBalanceRecord{
			UserID:            101,
			Kind:              enums.ConsumableCompliment,
			IncludedTotal:     1,
			IncludedRemaining: 1,
			RenewsAt:          now.Add(48 * time.Hour),
			RenewalPeriod:     7 * 24 * time.Hour,
		},
	}
	svc := buildService(store, enums.PlanFree, now)

	if err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableCompliment); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if store.renewals != 0 {
		t.Fatalf("a settled row must not be rewritten, got %d writes", store.renewals)
	}
}

func TestConsumeMapsEmptyBalance(t *testing.T) {
	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

	store := &storeStub{
		rec: pgrepo.ConsumableBalanceRecord{
			UserID:            101,
			Kind:              enums.ConsumableBoost,
			IncludedTotal:     0,
			IncludedRemaining: 0,
			RenewsAt:          now.Add(24 * time.Hour),
			RenewalPeriod:     30 * 24 * time.Hour,
		},
		consumeErr: pgrepo.ErrInsufficientBalance,
	}
	svc := buildService(store, enums.PlanFree, now)

	err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableBoost)
	if !errors.Is(err, ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
}

func TestConsumeValidation(t *testing.T) {
	svc := buildService(&storeStub{}, enums.PlanFree, time.Now().UTC())

	if err := svc.ConsumeInTx(context.Background(), nil, 0, enums.ConsumableBoost); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero user, got %v", err)
	}
	if err := svc.ConsumeInTx(context.Background(), nil, 101, enums.ConsumableKind("gems")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}
}
