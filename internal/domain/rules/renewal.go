package rules

import "time"

// AdvanceRenewal catches a periodic allotment boundary up to the present.
// It walks renewsAt forward by whole periods until it lands in the future
// and reports whether at least one period elapsed. The included allotment
// is re-credited once per catch-up, never once per elapsed period, so a
// user returning after many periods gets a single fresh allotment and the
// next boundary stays aligned to the original schedule.
func AdvanceRenewal(renewsAt time.Time, period time.Duration, now time.Time) (time.Time, bool) {
	if period <= 0 {
		return renewsAt, false
	}
	if renewsAt.IsZero() {
		return now.Add(period), true
	}
	if renewsAt.After(now) {
		return renewsAt, false
	}

	next := renewsAt
	for !next.After(now) {
		next = next.Add(period)
	}
	return next, true
}
