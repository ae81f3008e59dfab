package boost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waggleapp/backend/internal/domain/enums"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
	"github.com/waggleapp/backend/internal/services/userlock"
)

type storeStub struct {
	active *pgrepo.BoostSessionRecord
	closed int
}

func (s *storeStub) EndExpired(context.Context, pgx.Tx, int64, time.Time) error {
	return nil
}

func (s *storeStub) CloseExpired(_ context.Context, _ int64, now time.Time) error {
	if s.active != nil && s.active.Status == "active" && !s.active.EndsAt.After(now) {
		s.active.Status = "ended"
		s.closed++
	}
	return nil
}

func (s *storeStub) GetActiveForUpdate(_ context.Context, _ pgx.Tx, _ int64, now time.Time) (pgrepo.BoostSessionRecord, error) {
	return s.getActive(now)
}

func (s *storeStub) Insert(_ context.Context, _ pgx.Tx, userID int64, startedAt, endsAt time.Time) (pgrepo.BoostSessionRecord, error) {
	rec := pgrepo.BoostSessionRecord{ID: 1, UserID: userID, StartedAt: startedAt, EndsAt: endsAt, Status: "active"}
	s.active = &rec
	return rec, nil
}

func (s *storeStub) GetActive(_ context.Context, _ int64, now time.Time) (pgrepo.BoostSessionRecord, error) {
	return s.getActive(now)
}

func (s *storeStub) getActive(now time.Time) (pgrepo.BoostSessionRecord, error) {
	if s.active == nil || !s.active.EndsAt.After(now) {
		return pgrepo.BoostSessionRecord{}, pgrepo.ErrNoActiveBoost
	}
	return *s.active, nil
}

type chargerStub struct {
	calls int
	err   error
}

func (s *chargerStub) ConsumeInTx(context.Context, pgx.Tx, int64, enums.ConsumableKind) error {
	s.calls++
	return s.err
}

type busyLockerStub struct{}

func (busyLockerStub) WithUserLock(context.Context, int64, time.Duration, func(ctx context.Context) error) error {
	return userlock.ErrBusy
}

func TestGetStatusNoSession(t *testing.T) {
	svc := NewService(nil, &storeStub{}, &chargerStub{}, busyLockerStub{}, nil, Config{})

	status, err := svc.GetStatus(context.Background(), 101)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.IsActive || status.EndsAt != nil || status.RemainingSeconds != 0 {
		t.Fatalf("expected inactive status, got %+v", status)
	}
}

func TestGetStatusReportsRemainingTime(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ends := now.Add(90 * time.Second)

	store := &storeStub{
		active: &pgrepo.BoostSessionRecord{
			ID:        1,
			UserID:    101,
			StartedAt: now.Add(-30 * time.Minute),
			EndsAt:    ends,
			Status:    "active",
		},
	}
	svc := NewService(nil, store, &chargerStub{}, busyLockerStub{}, nil, Config{})
	svc.now = func() time.Time { return now }

	status, err := svc.GetStatus(context.Background(), 101)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !status.IsActive || status.RemainingSeconds != 90 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.EndsAt == nil || !status.EndsAt.Equal(ends) {
		t.Fatalf("unexpected ends_at: %v", status.EndsAt)
	}
}

func TestGetStatusExpiredSessionReadsInactive(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	store := &storeStub{
		active: &pgrepo.BoostSessionRecord{
			ID:        1,
			UserID:    101,
			StartedAt: now.Add(-2 * time.Hour),
			EndsAt:    now.Add(-time.Hour),
			Status:    "active",
		},
	}
	svc := NewService(nil, store, &chargerStub{}, busyLockerStub{}, nil, Config{})
	svc.now = func() time.Time { return now }

	status, err := svc.GetStatus(context.Background(), 101)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.IsActive {
		t.Fatalf("an expired session must read as inactive, got %+v", status)
	}
	if store.closed != 1 || store.active.Status != "ended" {
		t.Fatalf("the stale session must be closed by the status read, closed=%d status=%s", store.closed, store.active.Status)
	}
}

func TestStartMapsLockTimeoutToBusy(t *testing.T) {
	svc := NewService(new(pgxpool.Pool), &storeStub{}, &chargerStub{}, busyLockerStub{}, nil, Config{})

	if _, err := svc.Start(context.Background(), 101); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy when the lock wait runs out, got %v", err)
	}
}

func TestAlreadyActiveErrorCarriesEndTime(t *testing.T) {
	ends := time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)
	err := error(AlreadyActiveError{EndsAt: ends})

	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("AlreadyActiveError must match ErrAlreadyActive")
	}

	var aae AlreadyActiveError
	if !errors.As(err, &aae) || !aae.EndsAt.Equal(ends) {
		t.Fatalf("expected the end time to survive unwrapping, got %+v", aae)
	}
}

func TestStartValidation(t *testing.T) {
	svc := NewService(nil, &storeStub{}, &chargerStub{}, busyLockerStub{}, nil, Config{})

	if _, err := svc.Start(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Start(context.Background(), 101); !errors.Is(err, ErrDependenciesNil) {
		t.Fatalf("expected ErrDependenciesNil without a pool, got %v", err)
	}
}
