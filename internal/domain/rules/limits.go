package rules

import (
	"github.com/waggleapp/backend/internal/domain/enums"
)

const (
	FreePalsAcceptsPerDay  = 15
	FreeMatchAcceptsPerDay = 7
	PlusPalsAcceptsPerDay  = 0 // 0 means unlimited
	PlusMatchAcceptsPerDay = 25
)

// LimitTable holds the per-plan, per-lane daily accept caps. A zero entry
// means the lane is uncapped for that plan.
type LimitTable struct {
	FreePalsPerDay  int
	FreeMatchPerDay int
	PlusPalsPerDay  int
	PlusMatchPerDay int
}

func DefaultLimits() LimitTable {
	return LimitTable{
		FreePalsPerDay:  FreePalsAcceptsPerDay,
		FreeMatchPerDay: FreeMatchAcceptsPerDay,
		PlusPalsPerDay:  PlusPalsAcceptsPerDay,
		PlusMatchPerDay: PlusMatchAcceptsPerDay,
	}
}

// DailyAcceptLimit resolves the cap for a plan and lane. Nil means
// unlimited.
func (t LimitTable) DailyAcceptLimit(plan enums.PlanCode, lane enums.Lane) *int {
	var limit int
	switch {
	case plan == enums.PlanPlus && lane == enums.LanePals:
		limit = t.PlusPalsPerDay
	case plan == enums.PlanPlus && lane == enums.LaneMatch:
		limit = t.PlusMatchPerDay
	case lane == enums.LanePals:
		limit = t.FreePalsPerDay
	default:
		limit = t.FreeMatchPerDay
	}

	if limit <= 0 {
		return nil
	}
	return &limit
}
