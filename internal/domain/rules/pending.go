package rules

import (
	"time"

	"github.com/waggleapp/backend/internal/domain/enums"
)

// PendingPolicy drives the cross-lane pending state machine. The product
// asymmetry (who confirms, which lane wins on timeout) lives here as data
// rather than being baked into lane names, so flipping the policy is a
// config change.
type PendingPolicy struct {
	// ChooserLane: the user whose accept landed in this lane becomes the
	// party that must confirm the final lane.
	ChooserLane enums.Lane
	// AutoResolveLane: the lane an expired pending connection falls back to.
	AutoResolveLane enums.Lane
	// TTL: how long the chooser has before the sweeper takes over.
	TTL time.Duration
}

func DefaultPendingPolicy() PendingPolicy {
	return PendingPolicy{
		ChooserLane:     enums.LanePals,
		AutoResolveLane: enums.LanePals,
		TTL:             72 * time.Hour,
	}
}

func (p PendingPolicy) Normalize() PendingPolicy {
	out := p
	if !out.ChooserLane.Valid() {
		out.ChooserLane = enums.LanePals
	}
	if !out.AutoResolveLane.Valid() {
		out.AutoResolveLane = enums.LanePals
	}
	if out.TTL <= 0 {
		out.TTL = 72 * time.Hour
	}
	return out
}

func (p PendingPolicy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(p.TTL)
}
