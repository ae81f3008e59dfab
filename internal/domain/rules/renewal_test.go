package rules

import (
	"testing"
	"time"
)

func TestAdvanceRenewalNotDueYet(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	renewsAt := now.Add(2 * time.Hour)

	next, renewed := AdvanceRenewal(renewsAt, 7*24*time.Hour, now)
	if renewed {
		t.Fatalf("expected no renewal before the boundary")
	}
	if !next.Equal(renewsAt) {
		t.Fatalf("boundary moved without renewal: %v", next)
	}
}

func TestAdvanceRenewalSinglePeriod(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	renewsAt := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	period := 7 * 24 * time.Hour

	next, renewed := AdvanceRenewal(renewsAt, period, now)
	if !renewed {
		t.Fatalf("expected renewal at elapsed boundary")
	}
	want := renewsAt.Add(period)
	if !next.Equal(want) {
		t.Fatalf("next boundary: got %v want %v", next, want)
	}
}

func TestAdvanceRenewalManyPeriodsKeepsSchedule(t *testing.T) {
	// User returns after being away for many weeks: one re-credit, and the
	// boundary stays aligned with the original weekly schedule.
	renewsAt := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	period := 7 * 24 * time.Hour
	now := renewsAt.Add(10*period + 3*time.Hour)

	next, renewed := AdvanceRenewal(renewsAt, period, now)
	if !renewed {
		t.Fatalf("expected renewal after elapsed periods")
	}
	want := renewsAt.Add(11 * period)
	if !next.Equal(want) {
		t.Fatalf("next boundary: got %v want %v", next, want)
	}
	if !next.After(now) {
		t.Fatalf("next boundary %v is not in the future of %v", next, now)
	}
}

func TestAdvanceRenewalExactBoundaryIsDue(t *testing.T) {
	renewsAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	period := 24 * time.Hour

	next, renewed := AdvanceRenewal(renewsAt, period, renewsAt)
	if !renewed {
		t.Fatalf("boundary instant should trigger renewal")
	}
	if !next.Equal(renewsAt.Add(period)) {
		t.Fatalf("unexpected next boundary: %v", next)
	}
}

func TestAdvanceRenewalZeroStartInitializes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next, renewed := AdvanceRenewal(time.Time{}, 24*time.Hour, now)
	if !renewed {
		t.Fatalf("zero boundary should initialize with a credit")
	}
	if !next.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected initialized boundary: %v", next)
	}
}
